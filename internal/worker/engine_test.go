package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fermano/report-orchestrator/internal/domain"
	"github.com/fermano/report-orchestrator/internal/domain/mocks"
)

func newTestEngine(repo *mocks.JobRepository, prod *mocks.ArtifactProducer) *Engine {
	return New(repo, prod, time.Millisecond, time.Minute, 3, "worker-test", 0)
}

func TestTick_NoJobAvailable(t *testing.T) {
	repo := new(mocks.JobRepository)
	prod := new(mocks.ArtifactProducer)
	e := newTestEngine(repo, prod)

	repo.On("ClaimNextPending", mock.Anything, mock.Anything, "worker-test").
		Return(domain.Job{}, domain.ErrNotFound)

	claimed, err := e.tick(context.Background())
	require.NoError(t, err)
	require.False(t, claimed)
	prod.AssertNotCalled(t, "Produce", mock.Anything, mock.Anything)
}

func TestExecute_SuccessPath(t *testing.T) {
	repo := new(mocks.JobRepository)
	prod := new(mocks.ArtifactProducer)
	e := newTestEngine(repo, prod)

	job := domain.Job{ID: "job-1", Type: domain.JobTypeUsageSummary, Attempts: 0}
	exec := domain.Execution{ID: "exec-1", JobID: job.ID, Attempt: 1}

	repo.On("CreateExecution", mock.Anything, job.ID, 1).Return(exec, nil)
	prod.On("Produce", mock.Anything, job).Return([]byte("data"), "text/csv", "sum", nil)
	repo.On("InsertArtifact", mock.Anything, job.ID, "text/csv", []byte("data"), "sum").
		Return(domain.Artifact{ID: "art-1", JobID: job.ID}, nil)
	repo.On("MarkCompleted", mock.Anything, job.ID, 1).Return(nil)
	repo.On("CloseExecution", mock.Anything, exec.ID, error(nil)).Return(nil)

	e.Execute(context.Background(), job)

	repo.AssertExpectations(t)
	prod.AssertExpectations(t)
}

func TestExecute_ConvergesOnDuplicateArtifact(t *testing.T) {
	repo := new(mocks.JobRepository)
	prod := new(mocks.ArtifactProducer)
	e := newTestEngine(repo, prod)

	job := domain.Job{ID: "job-2", Type: domain.JobTypeBillingExport, Attempts: 1}
	exec := domain.Execution{ID: "exec-2", JobID: job.ID, Attempt: 2}

	repo.On("CreateExecution", mock.Anything, job.ID, 2).Return(exec, nil)
	prod.On("Produce", mock.Anything, job).Return([]byte("data"), "text/csv", "sum", nil)
	repo.On("InsertArtifact", mock.Anything, job.ID, "text/csv", []byte("data"), "sum").
		Return(domain.Artifact{}, domain.ErrDuplicateJobID)
	// attempts stays at job.Attempts (1), not the attempted 2, on convergence.
	repo.On("MarkCompleted", mock.Anything, job.ID, 1).Return(nil)
	repo.On("CloseExecution", mock.Anything, exec.ID, error(nil)).Return(nil)

	e.Execute(context.Background(), job)

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "MarkFailedOrRetry", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExecute_ProducerErrorRetries(t *testing.T) {
	repo := new(mocks.JobRepository)
	prod := new(mocks.ArtifactProducer)
	e := newTestEngine(repo, prod)

	job := domain.Job{ID: "job-3", Type: domain.JobTypeAuditSnapshot, Attempts: 0}
	exec := domain.Execution{ID: "exec-3", JobID: job.ID, Attempt: 1}
	producerErr := errors.New("render failed")

	repo.On("CreateExecution", mock.Anything, job.ID, 1).Return(exec, nil)
	prod.On("Produce", mock.Anything, job).Return(nil, "", "", producerErr)
	repo.On("CloseExecution", mock.Anything, exec.ID, producerErr).Return(nil)
	repo.On("MarkFailedOrRetry", mock.Anything, job.ID, 1, domain.JobPending).Return(nil)

	e.Execute(context.Background(), job)

	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "InsertArtifact", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFailOrRetry_TerminatesAtMaxAttempts(t *testing.T) {
	repo := new(mocks.JobRepository)
	prod := new(mocks.ArtifactProducer)
	e := newTestEngine(repo, prod)

	job := domain.Job{ID: "job-4", Type: domain.JobTypeUsageSummary, Attempts: 2}
	repo.On("MarkFailedOrRetry", mock.Anything, job.ID, 3, domain.JobFailed).Return(nil)

	e.failOrRetry(context.Background(), job, 3)

	repo.AssertExpectations(t)
}

func TestRecoverStaleLeases_LogsNothingOnZero(t *testing.T) {
	repo := new(mocks.JobRepository)
	prod := new(mocks.ArtifactProducer)
	e := newTestEngine(repo, prod)

	repo.On("RecoverStaleLeases", mock.Anything, mock.Anything).Return(int64(0), nil)

	e.recoverStaleLeases(context.Background())

	repo.AssertExpectations(t)
}
