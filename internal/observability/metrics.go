package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests processed, by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// JobsClaimedTotal counts successful worker claims.
	JobsClaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jobs_claimed_total",
		Help: "Total jobs claimed by workers.",
	})

	// JobsCompletedTotal counts execution outcomes by job type: completed,
	// converged, retry_pending (reset to PENDING) and failed.
	JobsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobs_completed_total",
		Help: "Total job execution outcomes (completed, converged, retry_pending, failed), by type and outcome.",
	}, []string{"type", "outcome"})

	// StaleLeasesRecoveredTotal counts leases reclaimed by the sweeper.
	StaleLeasesRecoveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stale_leases_recovered_total",
		Help: "Total stale worker leases recovered back to PENDING.",
	})

	// JobExecutionDuration tracks wall-clock time spent producing an
	// artifact, by job type.
	JobExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_execution_duration_seconds",
		Help:    "Time spent producing a job's artifact.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

// MetricsHandler serves the process's Prometheus registry.
func MetricsHandler() http.Handler { return promhttp.Handler() }

// HTTPMetricsMiddleware records request count and latency per chi route
// pattern, using the label "unmatched" when no route matched (404s).
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
