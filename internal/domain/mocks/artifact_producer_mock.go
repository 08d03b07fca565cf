// Hand-written testify/mock test double for domain.ArtifactProducer.

package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/fermano/report-orchestrator/internal/domain"
)

// ArtifactProducer is a testify mock of the ArtifactProducer interface.
type ArtifactProducer struct {
	mock.Mock
}

func (m *ArtifactProducer) Produce(ctx domain.Context, job domain.Job) ([]byte, string, string, error) {
	args := m.Called(ctx, job)
	content, _ := args.Get(0).([]byte)
	return content, args.String(1), args.String(2), args.Error(3)
}
