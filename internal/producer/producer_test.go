package producer_test

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fermano/report-orchestrator/internal/domain"
	"github.com/fermano/report-orchestrator/internal/producer"
)

func usageSummaryJob(format domain.OutputFormat) domain.Job {
	return domain.Job{
		ID:     "job-1",
		Tenant: "acme",
		Type:   domain.JobTypeUsageSummary,
		Params: domain.JobParams{From: "2024-01-01", To: "2024-01-31", Format: format},
	}
}

func TestProduce_CSV(t *testing.T) {
	p := producer.New()
	job := usageSummaryJob(domain.FormatCSV)

	content, contentType, checksum, err := p.Produce(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)

	r := csv.NewReader(strings.NewReader(string(content)))
	rows, err := r.ReadAll()
	require.NoError(t, err)
	assert.True(t, len(rows) >= 2)
	assert.Equal(t, "tenant", rows[1][0])
	assert.Equal(t, "acme", rows[1][1])
	assert.Equal(t, "generated_at", rows[len(rows)-1][0])
}

func TestProduce_JSON(t *testing.T) {
	p := producer.New()
	job := usageSummaryJob(domain.FormatJSON)

	content, contentType, checksum, err := p.Produce(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), checksum)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.Equal(t, "acme", decoded["tenant"])
	assert.Equal(t, "USAGE_SUMMARY", decoded["type"])
	assert.NotEmpty(t, decoded["generatedAt"])
}

func TestProduce_UnsupportedFormat(t *testing.T) {
	p := producer.New()
	job := usageSummaryJob(domain.OutputFormat("XML"))

	_, _, _, err := p.Produce(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestProduce_VariesByJobType(t *testing.T) {
	p := producer.New()
	billing := domain.Job{
		ID:     "job-2",
		Tenant: "acme",
		Type:   domain.JobTypeBillingExport,
		Params: domain.JobParams{From: "2024-01-01", To: "2024-01-31", Format: domain.FormatCSV},
	}

	content, _, _, err := p.Produce(context.Background(), billing)
	require.NoError(t, err)
	assert.Contains(t, string(content), "line_item")
}
