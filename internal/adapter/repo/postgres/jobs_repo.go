package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fermano/report-orchestrator/internal/domain"
)

const pgUniqueViolation = "23505"

// JobRepo is the Postgres implementation of domain.JobRepository. It owns
// the reports, report_artifacts and report_executions tables.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo backed by the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

func tracer() otel.Tracer { return otel.Tracer("repo.jobs") }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// InsertJob inserts a new PENDING job. If idempotencyKey collides with an
// existing row, domain.ErrDuplicateKey is returned and the caller is
// expected to re-read the canonical row.
func (r *JobRepo) InsertJob(ctx domain.Context, spec domain.JobSpec, idempotencyKey *string) (domain.Job, error) {
	ctx, span := tracer().Start(ctx, "jobs.InsertJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "reports"),
	)
	id := uuid.New().String()
	now := time.Now().UTC()
	paramsJSON, err := json.Marshal(spec.Params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.insert.marshal_params: %w", err)
	}
	q := `INSERT INTO reports (id, tenant_id, type, params, state, attempts, idempotency_key, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,0,$6,$7,$7)`
	_, err = r.Pool.Exec(ctx, q, id, spec.Tenant, spec.Type, paramsJSON, domain.JobPending, idempotencyKey, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Job{}, fmt.Errorf("op=job.insert: %w", domain.ErrDuplicateKey)
		}
		return domain.Job{}, fmt.Errorf("op=job.insert: %w", err)
	}
	return domain.Job{
		ID: id, Tenant: spec.Tenant, Type: spec.Type, Params: spec.Params,
		State: domain.JobPending, Attempts: 0, IdempotencyKey: idempotencyKey,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

const jobColumns = `id, tenant_id, type, params, state, attempts, idempotency_key, locked_at, locked_by, created_at, updated_at`

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var paramsJSON []byte
	if err := row.Scan(&j.ID, &j.Tenant, &j.Type, &paramsJSON, &j.State, &j.Attempts,
		&j.IdempotencyKey, &j.LockedAt, &j.LockedBy, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return domain.Job{}, err
	}
	if err := json.Unmarshal(paramsJSON, &j.Params); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal params: %w", err)
	}
	return j, nil
}

// FindJobByID loads a job by id.
func (r *JobRepo) FindJobByID(ctx domain.Context, id string) (domain.Job, error) {
	ctx, span := tracer().Start(ctx, "jobs.FindJobByID")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "reports"))
	q := `SELECT ` + jobColumns + ` FROM reports WHERE id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.find_by_id: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.find_by_id: %w", err)
	}
	return j, nil
}

// FindJobByIdempotencyKey loads a job by its client-supplied key.
func (r *JobRepo) FindJobByIdempotencyKey(ctx domain.Context, key string) (domain.Job, error) {
	ctx, span := tracer().Start(ctx, "jobs.FindJobByIdempotencyKey")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "reports"))
	q := `SELECT ` + jobColumns + ` FROM reports WHERE idempotency_key=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.find_by_idem_key: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.find_by_idem_key: %w", err)
	}
	return j, nil
}

// FindEquivalentCompletedOrRunning looks for an existing job with the same
// (tenant, type, params), preferring COMPLETED over RUNNING and, among
// COMPLETEDs, the most recently created.
func (r *JobRepo) FindEquivalentCompletedOrRunning(ctx domain.Context, spec domain.JobSpec) (domain.Job, error) {
	ctx, span := tracer().Start(ctx, "jobs.FindEquivalentCompletedOrRunning")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "reports"))
	paramsJSON, err := json.Marshal(spec.Params)
	if err != nil {
		return domain.Job{}, fmt.Errorf("op=job.find_equivalent.marshal_params: %w", err)
	}
	q := `SELECT ` + jobColumns + ` FROM reports
	      WHERE tenant_id=$1 AND type=$2 AND params=$3::jsonb AND state IN ('COMPLETED','RUNNING')
	      ORDER BY (state = 'COMPLETED') DESC, created_at DESC
	      LIMIT 1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, spec.Tenant, spec.Type, paramsJSON))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.find_equivalent: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.find_equivalent: %w", err)
	}
	return j, nil
}

// SetIdempotencyKey backfills a key onto a job that was created without
// one. A concurrent backfill onto a different job surfaces as
// domain.ErrDuplicateKey.
func (r *JobRepo) SetIdempotencyKey(ctx domain.Context, jobID string, key string) error {
	ctx, span := tracer().Start(ctx, "jobs.SetIdempotencyKey")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "reports"))
	q := `UPDATE reports SET idempotency_key=$2, updated_at=$3 WHERE id=$1 AND idempotency_key IS NULL`
	_, err := r.Pool.Exec(ctx, q, jobID, key, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("op=job.set_idem_key: %w", domain.ErrDuplicateKey)
		}
		return fmt.Errorf("op=job.set_idem_key: %w", err)
	}
	return nil
}

// ClaimNextPending atomically selects the oldest eligible PENDING job,
// skipping rows locked by other transactions, and transitions it to
// RUNNING with a fresh lease.
func (r *JobRepo) ClaimNextPending(ctx domain.Context, staleCutoff time.Time, workerID string) (domain.Job, error) {
	ctx, span := tracer().Start(ctx, "jobs.ClaimNextPending")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "reports"))
	now := time.Now().UTC()
	q := `UPDATE reports
	      SET state='RUNNING', locked_at=$1, locked_by=$2, updated_at=$1
	      WHERE id = (
	          SELECT id FROM reports
	          WHERE state='PENDING' AND (locked_at IS NULL OR locked_at < $3)
	          ORDER BY created_at ASC
	          LIMIT 1
	          FOR UPDATE SKIP LOCKED
	      )
	      RETURNING ` + jobColumns
	j, err := scanJob(r.Pool.QueryRow(ctx, q, now, workerID, staleCutoff))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, fmt.Errorf("op=job.claim: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.claim: %w", err)
	}
	return j, nil
}

// RecoverStaleLeases bulk-resets RUNNING jobs whose lease predates cutoff
// back to PENDING, clearing the lease without touching attempts.
func (r *JobRepo) RecoverStaleLeases(ctx domain.Context, cutoff time.Time) (int64, error) {
	ctx, span := tracer().Start(ctx, "jobs.RecoverStaleLeases")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "reports"))
	q := `UPDATE reports SET state='PENDING', locked_at=NULL, locked_by=NULL, updated_at=$2
	      WHERE state='RUNNING' AND locked_at < $1`
	tag, err := r.Pool.Exec(ctx, q, cutoff, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("op=job.recover_stale_leases: %w", err)
	}
	n := tag.RowsAffected()
	if n > 0 {
		slog.Warn("recovered stale leases", slog.Int64("count", n), slog.Time("cutoff", cutoff))
	}
	return n, nil
}

// InsertArtifact performs the convergence-point insert. A second worker
// racing to write the same job's artifact observes domain.ErrDuplicateJobID
// on the report_artifacts.report_id unique constraint rather than a generic
// failure.
func (r *JobRepo) InsertArtifact(ctx domain.Context, jobID string, contentType string, content []byte, checksum string) (domain.Artifact, error) {
	ctx, span := tracer().Start(ctx, "jobs.InsertArtifact")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "report_artifacts"))
	id := uuid.New().String()
	now := time.Now().UTC()
	q := `INSERT INTO report_artifacts (id, report_id, content_type, content, size_bytes, checksum, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, jobID, contentType, content, int64(len(content)), checksum, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Artifact{}, fmt.Errorf("op=artifact.insert: %w", domain.ErrDuplicateJobID)
		}
		return domain.Artifact{}, fmt.Errorf("op=artifact.insert: %w", err)
	}
	return domain.Artifact{
		ID: id, JobID: jobID, ContentType: contentType, Content: content,
		SizeBytes: int64(len(content)), Checksum: checksum, CreatedAt: now,
	}, nil
}

// GetArtifactByJobID loads the single artifact row for a job.
func (r *JobRepo) GetArtifactByJobID(ctx domain.Context, jobID string) (domain.Artifact, error) {
	ctx, span := tracer().Start(ctx, "jobs.GetArtifactByJobID")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "report_artifacts"))
	q := `SELECT id, report_id, content_type, content, size_bytes, checksum, created_at FROM report_artifacts WHERE report_id=$1`
	row := r.Pool.QueryRow(ctx, q, jobID)
	var a domain.Artifact
	if err := row.Scan(&a.ID, &a.JobID, &a.ContentType, &a.Content, &a.SizeBytes, &a.Checksum, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Artifact{}, fmt.Errorf("op=artifact.get: %w", domain.ErrNotFound)
		}
		return domain.Artifact{}, fmt.Errorf("op=artifact.get: %w", err)
	}
	return a, nil
}

// MarkCompleted transitions a job to COMPLETED, clearing its lease and
// raising attempts to the given value (a lower value never decreases the
// stored count). Callers pass the incremented count
// on the direct-success path and the unchanged count on the convergence
// (artifact-already-exists) path, per the attempts-monotonicity invariant.
func (r *JobRepo) MarkCompleted(ctx domain.Context, jobID string, attempts int) error {
	ctx, span := tracer().Start(ctx, "jobs.MarkCompleted")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "reports"))
	q := `UPDATE reports SET state='COMPLETED', attempts=GREATEST(attempts, $3), locked_at=NULL, locked_by=NULL, updated_at=$2 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, jobID, time.Now().UTC(), attempts)
	if err != nil {
		return fmt.Errorf("op=job.mark_completed: %w", err)
	}
	return nil
}

// MarkFailedOrRetry transitions a job either back to PENDING (available
// for retry) or to the terminal FAILED state, in both cases clearing the
// lease and recording the new attempts count.
func (r *JobRepo) MarkFailedOrRetry(ctx domain.Context, jobID string, newAttempts int, newState domain.JobState) error {
	ctx, span := tracer().Start(ctx, "jobs.MarkFailedOrRetry")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "reports"))
	q := `UPDATE reports SET state=$2, attempts=$3, locked_at=NULL, locked_by=NULL, updated_at=$4 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, jobID, newState, newAttempts, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=job.mark_failed_or_retry: %w", err)
	}
	return nil
}

// CreateExecution inserts an audit row for one attempt at a job.
func (r *JobRepo) CreateExecution(ctx domain.Context, jobID string, attempt int) (domain.Execution, error) {
	ctx, span := tracer().Start(ctx, "jobs.CreateExecution")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"), attribute.String("db.sql.table", "report_executions"))
	id := uuid.New().String()
	now := time.Now().UTC()
	q := `INSERT INTO report_executions (id, report_id, attempt, started_at) VALUES ($1,$2,$3,$4)`
	_, err := r.Pool.Exec(ctx, q, id, jobID, attempt, now)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("op=execution.create: %w", err)
	}
	return domain.Execution{ID: id, JobID: jobID, Attempt: attempt, StartedAt: now}, nil
}

// CloseExecution records the end of an attempt, optionally with the error
// that ended it.
func (r *JobRepo) CloseExecution(ctx domain.Context, executionID string, execErr error) error {
	ctx, span := tracer().Start(ctx, "jobs.CloseExecution")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"), attribute.String("db.sql.table", "report_executions"))
	var errMsg *string
	if execErr != nil {
		msg := execErr.Error()
		errMsg = &msg
	}
	q := `UPDATE report_executions SET finished_at=$2, error=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, executionID, time.Now().UTC(), errMsg)
	if err != nil {
		return fmt.Errorf("op=execution.close: %w", err)
	}
	return nil
}

// ListByTenant returns a page of jobs ordered by created_at descending,
// tie-broken by id ascending, optionally filtered by state/type.
//
// The cursor is a job id from the previous page's last row. Since ids are
// random UUIDs uncorrelated with created_at, resuming after the cursor
// requires comparing the full (created_at, id) tuple against the cursor
// row's own created_at, not a bare id comparison — a plain "id > cursor"
// would desynchronize from the created_at DESC ordering and both skip and
// duplicate rows across pages.
func (r *JobRepo) ListByTenant(ctx domain.Context, tenant string, filters domain.ListFilters, limit int, cursor string) ([]domain.Job, string, error) {
	ctx, span := tracer().Start(ctx, "jobs.ListByTenant")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"), attribute.String("db.sql.table", "reports"))

	var cursorCreatedAt time.Time
	if cursor != "" {
		row := r.Pool.QueryRow(ctx, `SELECT created_at FROM reports WHERE id=$1`, cursor)
		if err := row.Scan(&cursorCreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, "", fmt.Errorf("op=job.list_by_tenant.cursor: %w", domain.ErrInvalidArgument)
			}
			return nil, "", fmt.Errorf("op=job.list_by_tenant.cursor: %w", err)
		}
	}

	q := `SELECT ` + jobColumns + ` FROM reports WHERE tenant_id=$1`
	args := []any{tenant}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filters.State != "" {
		q += " AND state=" + arg(filters.State)
	}
	if filters.Type != "" {
		q += " AND type=" + arg(filters.Type)
	}
	if cursor != "" {
		createdIdx := arg(cursorCreatedAt)
		idIdx := arg(cursor)
		q += fmt.Sprintf(` AND (created_at < %s OR (created_at = %s AND id > %s))`, createdIdx, createdIdx, idIdx)
	}
	q += " ORDER BY created_at DESC, id ASC LIMIT " + arg(limit+1)

	rows, err := r.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, "", fmt.Errorf("op=job.list_by_tenant: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, "", fmt.Errorf("op=job.list_by_tenant_scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("op=job.list_by_tenant_rows: %w", err)
	}

	var next string
	if len(jobs) > limit {
		next = jobs[limit-1].ID
		jobs = jobs[:limit]
	}
	return jobs, next, nil
}

// Ping issues a trivial probe against the store, used by the /health
// handler.
func (r *JobRepo) Ping(ctx domain.Context) error {
	ctx, span := tracer().Start(ctx, "jobs.Ping")
	defer span.End()
	row := r.Pool.QueryRow(ctx, `SELECT 1`)
	var one int
	if err := row.Scan(&one); err != nil {
		return fmt.Errorf("op=job.ping: %w", err)
	}
	return nil
}
