// Package usecase implements the job service (C4) and idempotency broker
// (C3) on top of the domain.JobRepository port.
package usecase

import (
	"errors"
	"fmt"

	"github.com/fermano/report-orchestrator/internal/domain"
)

// JobService is C4: job creation, lookup, listing and artifact retrieval.
type JobService struct {
	Repo domain.JobRepository
}

// NewJobService constructs a JobService.
func NewJobService(repo domain.JobRepository) *JobService {
	return &JobService{Repo: repo}
}

// Create performs the pure-create operation the idempotency broker
// delegates to on anything but a key hit: look for a semantically
// equivalent COMPLETED or RUNNING job, and insert a new PENDING one only
// on a miss.
func (s *JobService) Create(ctx domain.Context, spec domain.JobSpec, idempotencyKey *string) (domain.Job, bool, error) {
	existing, err := s.Repo.FindEquivalentCompletedOrRunning(ctx, spec)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Job{}, false, fmt.Errorf("op=jobs.create.find_equivalent: %w", err)
	}
	job, err := s.Repo.InsertJob(ctx, spec, idempotencyKey)
	if err != nil {
		return domain.Job{}, false, err
	}
	return job, true, nil
}

// Get returns a job by id.
func (s *JobService) Get(ctx domain.Context, id string) (domain.Job, error) {
	return s.Repo.FindJobByID(ctx, id)
}

// GetArtifact returns the content and MIME type of a job's artifact. It
// fails NotFound if the job or artifact is missing, and Conflict if the
// job has not yet reached COMPLETED.
func (s *JobService) GetArtifact(ctx domain.Context, id string) (domain.Artifact, error) {
	job, err := s.Repo.FindJobByID(ctx, id)
	if err != nil {
		return domain.Artifact{}, err
	}
	if job.State != domain.JobCompleted {
		return domain.Artifact{}, fmt.Errorf("%w: job %s is %s, not COMPLETED", domain.ErrConflict, id, job.State)
	}
	return s.Repo.GetArtifactByJobID(ctx, id)
}

// List returns a page of a tenant's jobs.
func (s *JobService) List(ctx domain.Context, tenant string, filters domain.ListFilters, limit int, cursor string) ([]domain.Job, string, error) {
	return s.Repo.ListByTenant(ctx, tenant, filters, limit, cursor)
}

// IdempotencyBroker is C3: resolves a submission to the single Job that
// should represent it, creating one only on a full miss.
type IdempotencyBroker struct {
	Repo domain.JobRepository
	Jobs *JobService
}

// NewIdempotencyBroker constructs an IdempotencyBroker.
func NewIdempotencyBroker(repo domain.JobRepository, jobs *JobService) *IdempotencyBroker {
	return &IdempotencyBroker{Repo: repo, Jobs: jobs}
}

// Resolve implements the four-step resolution order from the design: key
// hit, semantic hit, miss-then-insert, and key backfill with retry on a
// concurrent backfill race.
func (b *IdempotencyBroker) Resolve(ctx domain.Context, spec domain.JobSpec, idempotencyKey *string) (domain.Job, bool, error) {
	if idempotencyKey != nil && *idempotencyKey != "" {
		job, err := b.Repo.FindJobByIdempotencyKey(ctx, *idempotencyKey)
		if err == nil {
			return job, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Job{}, false, fmt.Errorf("op=idempotency.resolve.find_key: %w", err)
		}
	}

	job, created, err := b.Jobs.Create(ctx, spec, idempotencyKey)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return b.reconvergeOnKey(ctx, idempotencyKey)
		}
		return domain.Job{}, false, err
	}

	if idempotencyKey != nil && *idempotencyKey != "" && job.IdempotencyKey == nil {
		if err := b.Repo.SetIdempotencyKey(ctx, job.ID, *idempotencyKey); err != nil {
			if errors.Is(err, domain.ErrDuplicateKey) {
				return b.reconvergeOnKey(ctx, idempotencyKey)
			}
			return domain.Job{}, false, fmt.Errorf("op=idempotency.resolve.backfill_key: %w", err)
		}
		job.IdempotencyKey = idempotencyKey
	}

	return job, created, nil
}

// reconvergeOnKey re-reads the canonical row after a uniqueness violation
// on idempotency_key: a concurrent submitter won the race, and that job is
// now the authoritative answer.
func (b *IdempotencyBroker) reconvergeOnKey(ctx domain.Context, idempotencyKey *string) (domain.Job, bool, error) {
	job, err := b.Repo.FindJobByIdempotencyKey(ctx, *idempotencyKey)
	if err != nil {
		return domain.Job{}, false, fmt.Errorf("op=idempotency.reconverge: %w", err)
	}
	return job, false, nil
}
