// Package domain defines the core entities, error taxonomy and repository
// ports of the report-generation kernel. It has no dependency on HTTP,
// Postgres or any other adapter.
package domain

import (
	"context"
	"errors"
	"time"
)

// Context is an alias kept for readability at call sites that pass
// request-scoped context through the domain layer.
type Context = context.Context

// Sentinel errors form the error taxonomy. HTTP and worker layers dispatch
// on these with errors.Is rather than inspecting concrete types.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrDuplicateKey    = errors.New("duplicate idempotency key")
	ErrDuplicateJobID  = errors.New("duplicate job id")
	ErrUnhealthy       = errors.New("unhealthy dependency")
)

// JobType is the closed set of report kinds this service knows how to
// produce.
type JobType string

// Supported job types.
const (
	JobTypeUsageSummary  JobType = "USAGE_SUMMARY"
	JobTypeBillingExport JobType = "BILLING_EXPORT"
	JobTypeAuditSnapshot JobType = "AUDIT_SNAPSHOT"
)

// Valid reports whether t is one of the closed set of supported job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeUsageSummary, JobTypeBillingExport, JobTypeAuditSnapshot:
		return true
	default:
		return false
	}
}

// OutputFormat is the closed set of artifact encodings.
type OutputFormat string

// Supported output formats.
const (
	FormatCSV  OutputFormat = "CSV"
	FormatJSON OutputFormat = "JSON"
)

// Valid reports whether f is one of the closed set of supported formats.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatCSV, FormatJSON:
		return true
	default:
		return false
	}
}

// JobState is the closed set of lifecycle states a Job may occupy.
type JobState string

// Job lifecycle states.
const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
)

// Terminal reports whether s is a terminal state that no operation may
// transition out of.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobParams is the structured payload every job carries: a date range and
// the desired output encoding. It is stored as JSONB.
type JobParams struct {
	From   string       `json:"from"`
	To     string       `json:"to"`
	Format OutputFormat `json:"format"`
}

// JobSpec is the client-supplied shape of a submission, prior to
// persistence.
type JobSpec struct {
	Tenant string
	Type   JobType
	Params JobParams
}

// Job is a submission's lifecycle record.
type Job struct {
	ID             string
	Tenant         string
	Type           JobType
	Params         JobParams
	State          JobState
	Attempts       int
	IdempotencyKey *string
	LockedAt       *time.Time
	LockedBy       *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Artifact is the produced output of a job. At most one exists per job.
type Artifact struct {
	ID          string
	JobID       string
	ContentType string
	Content     []byte
	SizeBytes   int64
	Checksum    string
	CreatedAt   time.Time
}

// Execution is an audit record of a single attempt at producing an
// artifact for a job.
type Execution struct {
	ID         string
	JobID      string
	Attempt    int
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      *string
}

// ListFilters narrows a ListByTenant query.
type ListFilters struct {
	State JobState
	Type  JobType
}

// JobRepository is the C1 persistence port. Every method may block on the
// store and is expected to be instrumented by its adapter.
//
//go:generate mockery --name=JobRepository --dir=../../domain --output=../../domain/mocks --filename=job_repository_mock.go --with-expecter
type JobRepository interface {
	InsertJob(ctx Context, spec JobSpec, idempotencyKey *string) (Job, error)
	FindJobByID(ctx Context, id string) (Job, error)
	FindJobByIdempotencyKey(ctx Context, key string) (Job, error)
	FindEquivalentCompletedOrRunning(ctx Context, spec JobSpec) (Job, error)
	SetIdempotencyKey(ctx Context, jobID string, key string) error

	ClaimNextPending(ctx Context, staleCutoff time.Time, workerID string) (Job, error)
	RecoverStaleLeases(ctx Context, cutoff time.Time) (int64, error)

	InsertArtifact(ctx Context, jobID string, contentType string, content []byte, checksum string) (Artifact, error)
	GetArtifactByJobID(ctx Context, jobID string) (Artifact, error)

	MarkCompleted(ctx Context, jobID string, attempts int) error
	MarkFailedOrRetry(ctx Context, jobID string, newAttempts int, newState JobState) error

	CreateExecution(ctx Context, jobID string, attempt int) (Execution, error)
	CloseExecution(ctx Context, executionID string, execErr error) error

	ListByTenant(ctx Context, tenant string, filters ListFilters, limit int, cursor string) ([]Job, string, error)

	Ping(ctx Context) error
}

// ArtifactProducer is the C2 port: a pure function of a job's spec that
// returns the bytes, MIME type and checksum of its artifact. It must not
// touch the store.
//
//go:generate mockery --name=ArtifactProducer --dir=../../domain --output=../../domain/mocks --filename=artifact_producer_mock.go --with-expecter
type ArtifactProducer interface {
	Produce(ctx Context, job Job) (content []byte, contentType string, checksum string, err error)
}
