// Package httpserver contains HTTP handlers and middleware for the report
// submission and retrieval API.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fermano/report-orchestrator/internal/config"
	"github.com/fermano/report-orchestrator/internal/domain"
	"github.com/fermano/report-orchestrator/internal/usecase"
)

// Server aggregates the HTTP surface's dependencies.
type Server struct {
	Cfg     config.Config
	Broker  *usecase.IdempotencyBroker
	Jobs    *usecase.JobService
	DBCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with its handlers wired.
func NewServer(cfg config.Config, broker *usecase.IdempotencyBroker, jobs *usecase.JobService, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Broker: broker, Jobs: jobs, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type jobParamsRequest struct {
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
	Format string `json:"format" validate:"required,oneof=CSV JSON"`
}

type createJobRequest struct {
	Tenant string            `json:"tenant" validate:"required"`
	Type   string            `json:"type" validate:"required,oneof=USAGE_SUMMARY BILLING_EXPORT AUDIT_SNAPSHOT"`
	Params jobParamsRequest  `json:"params" validate:"required"`
}

type artifactMeta struct {
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
	Checksum    string `json:"checksum"`
}

type jobResponse struct {
	ID             string        `json:"id"`
	Tenant         string        `json:"tenant"`
	Type           string        `json:"type"`
	Params         domain.JobParams `json:"params"`
	State          string        `json:"state"`
	Attempts       int           `json:"attempts"`
	IdempotencyKey *string       `json:"idempotencyKey,omitempty"`
	CreatedAt      string        `json:"createdAt"`
	UpdatedAt      string        `json:"updatedAt"`
	Artifact       *artifactMeta `json:"artifact,omitempty"`
}

func toJobResponse(job domain.Job, artifact *domain.Artifact) jobResponse {
	resp := jobResponse{
		ID:             job.ID,
		Tenant:         job.Tenant,
		Type:           string(job.Type),
		Params:         job.Params,
		State:          string(job.State),
		Attempts:       job.Attempts,
		IdempotencyKey: job.IdempotencyKey,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
	if artifact != nil {
		resp.Artifact = &artifactMeta{
			ContentType: artifact.ContentType,
			SizeBytes:   artifact.SizeBytes,
			Checksum:    artifact.Checksum,
		}
	}
	return resp
}

// CreateJobHandler handles POST /reports.
func (s *Server) CreateJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

		var req createJobRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidArgument, err))
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
			return
		}

		var idempotencyKey *string
		if key := r.Header.Get("Idempotency-Key"); key != "" {
			if len(key) > 255 {
				writeError(w, r, fmt.Errorf("%w: Idempotency-Key exceeds 255 characters", domain.ErrInvalidArgument))
				return
			}
			idempotencyKey = &key
		}

		spec := domain.JobSpec{
			Tenant: req.Tenant,
			Type:   domain.JobType(req.Type),
			Params: domain.JobParams{
				From:   req.Params.From,
				To:     req.Params.To,
				Format: domain.OutputFormat(req.Params.Format),
			},
		}

		job, created, err := s.Broker.Resolve(r.Context(), spec, idempotencyKey)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=reports.create: %w", err))
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, toJobResponse(job, nil))
	}
}

// GetJobHandler handles GET /reports/{id}.
func (s *Server) GetJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		job, err := s.Jobs.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		var artifact *domain.Artifact
		if job.State == domain.JobCompleted {
			if a, aerr := s.Jobs.GetArtifact(r.Context(), id); aerr == nil {
				artifact = &a
			}
		}
		writeJSON(w, http.StatusOK, toJobResponse(job, artifact))
	}
}

// DownloadArtifactHandler handles GET /reports/{id}/download.
func (s *Server) DownloadArtifactHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		artifact, err := s.Jobs.GetArtifact(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", artifact.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%s"`, id))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(artifact.Content)
	}
}

type listJobsResponse struct {
	Reports    []jobResponse `json:"reports"`
	NextCursor *string       `json:"nextCursor,omitempty"`
}

// ListJobsHandler handles GET /tenants/{tenant}/reports.
func (s *Server) ListJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := chi.URLParam(r, "tenant")
		q := r.URL.Query()

		limit := s.Cfg.DefaultPageSize
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeError(w, r, fmt.Errorf("%w: invalid limit", domain.ErrInvalidArgument))
				return
			}
			limit = n
		}
		if limit > s.Cfg.MaxPageSize {
			limit = s.Cfg.MaxPageSize
		}

		filters := domain.ListFilters{
			State: domain.JobState(q.Get("state")),
			Type:  domain.JobType(q.Get("type")),
		}
		cursor := q.Get("cursor")

		jobs, next, err := s.Jobs.List(r.Context(), tenant, filters, limit, cursor)
		if err != nil {
			writeError(w, r, fmt.Errorf("op=reports.list: %w", err))
			return
		}

		resp := listJobsResponse{Reports: make([]jobResponse, 0, len(jobs))}
		for _, j := range jobs {
			resp.Reports = append(resp.Reports, toJobResponse(j, nil))
		}
		if next != "" {
			resp.NextCursor = &next
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HealthHandler handles GET /health.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				writeError(w, r, fmt.Errorf("%w: %v", domain.ErrUnhealthy, err))
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
