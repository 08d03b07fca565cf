package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fermano/report-orchestrator/internal/domain"
)

func TestJobType_Valid(t *testing.T) {
	assert.True(t, domain.JobTypeUsageSummary.Valid())
	assert.True(t, domain.JobTypeBillingExport.Valid())
	assert.True(t, domain.JobTypeAuditSnapshot.Valid())
	assert.False(t, domain.JobType("UNKNOWN").Valid())
}

func TestOutputFormat_Valid(t *testing.T) {
	assert.True(t, domain.FormatCSV.Valid())
	assert.True(t, domain.FormatJSON.Valid())
	assert.False(t, domain.OutputFormat("XML").Valid())
}

func TestJobState_Terminal(t *testing.T) {
	assert.True(t, domain.JobCompleted.Terminal())
	assert.True(t, domain.JobFailed.Terminal())
	assert.False(t, domain.JobPending.Terminal())
	assert.False(t, domain.JobRunning.Terminal())
}
