// Hand-written testify/mock test double for domain.JobRepository.

package mocks

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/fermano/report-orchestrator/internal/domain"
)

// JobRepository is a testify mock of the JobRepository interface.
type JobRepository struct {
	mock.Mock
}

func (m *JobRepository) InsertJob(ctx domain.Context, spec domain.JobSpec, idempotencyKey *string) (domain.Job, error) {
	args := m.Called(ctx, spec, idempotencyKey)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *JobRepository) FindJobByID(ctx domain.Context, id string) (domain.Job, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *JobRepository) FindJobByIdempotencyKey(ctx domain.Context, key string) (domain.Job, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *JobRepository) FindEquivalentCompletedOrRunning(ctx domain.Context, spec domain.JobSpec) (domain.Job, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *JobRepository) SetIdempotencyKey(ctx domain.Context, jobID string, key string) error {
	args := m.Called(ctx, jobID, key)
	return args.Error(0)
}

func (m *JobRepository) ClaimNextPending(ctx domain.Context, staleCutoff time.Time, workerID string) (domain.Job, error) {
	args := m.Called(ctx, staleCutoff, workerID)
	return args.Get(0).(domain.Job), args.Error(1)
}

func (m *JobRepository) RecoverStaleLeases(ctx domain.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *JobRepository) InsertArtifact(ctx domain.Context, jobID string, contentType string, content []byte, checksum string) (domain.Artifact, error) {
	args := m.Called(ctx, jobID, contentType, content, checksum)
	return args.Get(0).(domain.Artifact), args.Error(1)
}

func (m *JobRepository) GetArtifactByJobID(ctx domain.Context, jobID string) (domain.Artifact, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(domain.Artifact), args.Error(1)
}

func (m *JobRepository) MarkCompleted(ctx domain.Context, jobID string, attempts int) error {
	args := m.Called(ctx, jobID, attempts)
	return args.Error(0)
}

func (m *JobRepository) MarkFailedOrRetry(ctx domain.Context, jobID string, newAttempts int, newState domain.JobState) error {
	args := m.Called(ctx, jobID, newAttempts, newState)
	return args.Error(0)
}

func (m *JobRepository) CreateExecution(ctx domain.Context, jobID string, attempt int) (domain.Execution, error) {
	args := m.Called(ctx, jobID, attempt)
	return args.Get(0).(domain.Execution), args.Error(1)
}

func (m *JobRepository) CloseExecution(ctx domain.Context, executionID string, execErr error) error {
	args := m.Called(ctx, executionID, execErr)
	return args.Error(0)
}

func (m *JobRepository) ListByTenant(ctx domain.Context, tenant string, filters domain.ListFilters, limit int, cursor string) ([]domain.Job, string, error) {
	args := m.Called(ctx, tenant, filters, limit, cursor)
	jobs, _ := args.Get(0).([]domain.Job)
	return jobs, args.String(1), args.Error(2)
}

func (m *JobRepository) Ping(ctx domain.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
