// Package httpserver contains HTTP handlers and middleware for the report
// submission and retrieval API.
package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fermano/report-orchestrator/internal/domain"
)

type errorResponse struct {
	StatusCode    int    `json:"statusCode"`
	Timestamp     string `json:"timestamp"`
	Path          string `json:"path"`
	CorrelationID string `json:"correlationId"`
	Message       string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto an HTTP status and the
// spec's error envelope. Errors that only ever arise as intermediate
// signals inside the repository (domain.ErrDuplicateKey,
// domain.ErrDuplicateJobID) are resolved internally and never reach here;
// if one does leak through it falls into the default 500 case.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrUnhealthy):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{
		StatusCode:    status,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Path:          r.URL.Path,
		CorrelationID: r.Header.Get(CorrelationIDHeader),
		Message:       err.Error(),
	})
}
