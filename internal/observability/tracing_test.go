package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermano/report-orchestrator/internal/config"
	"github.com/fermano/report-orchestrator/internal/observability"
)

func TestSetupTracing_DisabledWithoutEndpoint(t *testing.T) {
	cfg := config.Config{OTLPEndpoint: ""}
	shutdown, err := observability.SetupTracing(cfg)
	require.NoError(t, err)
	assert.Nil(t, shutdown)
}

func TestSetupTracing_ConfiguresProviderWhenEndpointSet(t *testing.T) {
	cfg := config.Config{OTLPEndpoint: "localhost:4317", OTELServiceName: "report-orchestrator-test", AppEnv: "dev"}
	shutdown, err := observability.SetupTracing(cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	_ = shutdown(context.Background())
}
