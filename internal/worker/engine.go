// Package worker implements the worker engine (C5): the cooperative
// claim/execute/converge loop and stale-lease recovery.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fermano/report-orchestrator/internal/domain"
	"github.com/fermano/report-orchestrator/internal/observability"
)

// Engine polls the store for eligible jobs, executes them against a
// Producer, and converges job state through the store's invariants. One
// worker instance runs one claim/execute cycle at a time; parallelism
// comes from running multiple Engine instances, not from concurrency
// inside a single one.
type Engine struct {
	Repo                domain.JobRepository
	Producer            domain.ArtifactProducer
	PollInterval        time.Duration
	StaleLockTimeout    time.Duration
	MaxAttempts         int
	InstanceID          string
	StaleRecoveryChance float64
}

// New constructs an Engine.
func New(repo domain.JobRepository, producer domain.ArtifactProducer, pollInterval, staleLockTimeout time.Duration, maxAttempts int, instanceID string, staleRecoveryChance float64) *Engine {
	return &Engine{
		Repo:                repo,
		Producer:            producer,
		PollInterval:        pollInterval,
		StaleLockTimeout:    staleLockTimeout,
		MaxAttempts:         maxAttempts,
		InstanceID:          instanceID,
		StaleRecoveryChance: staleRecoveryChance,
	}
}

// Run executes the poll loop until ctx is cancelled, performing at most
// one job attempt per tick. Consecutive tick errors (store unreachable,
// etc.) widen the sleep via exponential backoff; a successful or empty
// tick resets it back to the configured poll interval.
func (e *Engine) Run(ctx context.Context) {
	e.recoverStaleLeases(ctx)

	errBackoff := backoff.NewExponentialBackOff()
	errBackoff.InitialInterval = e.PollInterval
	errBackoff.MaxInterval = 10 * e.PollInterval
	errBackoff.MaxElapsedTime = 0

	for {
		if rand.Float64() < e.StaleRecoveryChance { //nolint:gosec // jitter only, not security sensitive
			e.recoverStaleLeases(ctx)
		}

		wait := e.PollInterval
		if _, err := e.tick(ctx); err != nil {
			slog.Error("worker tick failed", slog.String("worker_id", e.InstanceID), slog.Any("error", err))
			wait = errBackoff.NextBackOff()
		} else {
			errBackoff.Reset()
		}

		select {
		case <-ctx.Done():
			slog.Info("worker engine stopping", slog.String("worker_id", e.InstanceID))
			return
		case <-time.After(wait):
		}
	}
}

// tick performs at most one claim+execute cycle. claimed is false (with a
// nil error) when no eligible job was available.
func (e *Engine) tick(ctx context.Context) (claimed bool, err error) {
	cutoff := time.Now().Add(-e.StaleLockTimeout)
	job, err := e.Repo.ClaimNextPending(ctx, cutoff, e.InstanceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	observability.JobsClaimedTotal.Inc()
	e.Execute(ctx, job)
	return true, nil
}

// Execute runs the full execution algorithm for a freshly claimed job:
// open an execution record, invoke the producer, and attempt the
// convergence-point artifact insert. Exported so integration tests can
// drive two engines against the same claimed job to exercise the
// convergence race directly.
func (e *Engine) Execute(ctx context.Context, job domain.Job) {
	start := time.Now()
	attempt := job.Attempts + 1

	exec, err := e.Repo.CreateExecution(ctx, job.ID, attempt)
	if err != nil {
		slog.Error("failed to open execution record", slog.String("job_id", job.ID), slog.Any("error", err))
		e.failOrRetry(ctx, job, attempt)
		return
	}

	content, contentType, checksum, err := e.Producer.Produce(ctx, job)
	if err != nil {
		e.closeExecution(ctx, exec.ID, err)
		e.failOrRetry(ctx, job, attempt)
		return
	}

	_, err = e.Repo.InsertArtifact(ctx, job.ID, contentType, content, checksum)
	switch {
	case err == nil:
		if mErr := e.Repo.MarkCompleted(ctx, job.ID, attempt); mErr != nil {
			slog.Error("failed to mark job completed", slog.String("job_id", job.ID), slog.Any("error", mErr))
		}
		e.closeExecution(ctx, exec.ID, nil)
		observability.JobsCompletedTotal.WithLabelValues(string(job.Type), "completed").Inc()

	case errors.Is(err, domain.ErrDuplicateJobID):
		// A peer worker already wrote the artifact. Converge without
		// producing a second one; attempts is left unchanged.
		slog.Info("converging on peer-produced artifact",
			slog.String("job_id", job.ID), slog.String("worker_id", e.InstanceID))
		if mErr := e.Repo.MarkCompleted(ctx, job.ID, job.Attempts); mErr != nil {
			slog.Error("failed to converge job to completed", slog.String("job_id", job.ID), slog.Any("error", mErr))
		}
		e.closeExecution(ctx, exec.ID, nil)
		observability.JobsCompletedTotal.WithLabelValues(string(job.Type), "converged").Inc()

	default:
		e.closeExecution(ctx, exec.ID, err)
		e.failOrRetry(ctx, job, attempt)
	}

	observability.JobExecutionDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())
}

func (e *Engine) closeExecution(ctx context.Context, executionID string, cause error) {
	if err := e.Repo.CloseExecution(ctx, executionID, cause); err != nil {
		slog.Error("failed to close execution record", slog.String("execution_id", executionID), slog.Any("error", err))
	}
}

// failOrRetry implements the failure path: reset to PENDING for another
// attempt, or transition to the terminal FAILED state once max attempts
// is reached.
func (e *Engine) failOrRetry(ctx context.Context, job domain.Job, attempt int) {
	newState := domain.JobPending
	if attempt >= e.MaxAttempts {
		newState = domain.JobFailed
	}
	if err := e.Repo.MarkFailedOrRetry(ctx, job.ID, attempt, newState); err != nil {
		slog.Error("failed to transition job after execution failure", slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	outcome := "retry_pending"
	if newState == domain.JobFailed {
		outcome = "failed"
	}
	observability.JobsCompletedTotal.WithLabelValues(string(job.Type), outcome).Inc()
}

func (e *Engine) recoverStaleLeases(ctx context.Context) {
	cutoff := time.Now().Add(-e.StaleLockTimeout)
	n, err := e.Repo.RecoverStaleLeases(ctx, cutoff)
	if err != nil {
		slog.Error("stale lease recovery failed", slog.String("worker_id", e.InstanceID), slog.Any("error", err))
		return
	}
	if n > 0 {
		observability.StaleLeasesRecoveredTotal.Add(float64(n))
	}
}
