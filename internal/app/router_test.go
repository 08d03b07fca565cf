package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fermano/report-orchestrator/internal/adapter/httpserver"
	"github.com/fermano/report-orchestrator/internal/app"
	"github.com/fermano/report-orchestrator/internal/config"
	"github.com/fermano/report-orchestrator/internal/domain"
	"github.com/fermano/report-orchestrator/internal/domain/mocks"
	"github.com/fermano/report-orchestrator/internal/usecase"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, app.ParseOrigins(""))
	assert.Equal(t, []string{"*"}, app.ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, app.ParseOrigins("https://a.example, https://b.example"))
}

func TestBuildRouter_HealthAndGet(t *testing.T) {
	repo := new(mocks.JobRepository)
	jobs := usecase.NewJobService(repo)
	broker := usecase.NewIdempotencyBroker(repo, jobs)
	cfg := config.Config{DefaultPageSize: 20, MaxPageSize: 100, RateLimitPerMin: 60, CORSAllowOrigins: "*"}

	srv := httpserver.NewServer(cfg, broker, jobs, func(ctx context.Context) error { return nil })
	handler := app.BuildRouter(cfg, srv)

	job := domain.Job{ID: "job-1", State: domain.JobPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	repo.On("FindJobByID", mock.Anything, "job-1").Return(job, nil)

	req := httptest.NewRequest(http.MethodGet, "/reports/job-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(httpserver.CorrelationIDHeader))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}
