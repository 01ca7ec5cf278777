// Package api serves the read-only admin surface of batchctl: health checks,
// metrics, and job inspection.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"batchctl/internal/apperrors"
	"batchctl/internal/health"
	"batchctl/internal/job"
	"batchctl/internal/logs"

	"github.com/go-chi/chi/v5"
)

// defaultLogLines bounds /logs when neither head nor tail is given.
const defaultLogLines = 100

// JobService is the part of job.Service the handlers use.
type JobService interface {
	Describe(ctx context.Context, jobID string) (*job.Description, error)
	List(ctx context.Context, queues []string, statuses []job.Status) ([]job.Description, error)
	Terminate(ctx context.Context, jobID, reason string) error
}

// LogSource opens a reader over a job's log stream.
type LogSource interface {
	Open(stream string, opts logs.Options) (*logs.Reader, error)
}

// Handler contains the HTTP handlers of the admin API.
type Handler struct {
	jobs   JobService
	logs   LogSource
	health *health.Checker
}

// NewHandler creates a new API handler.
func NewHandler(jobs JobService, logSource LogSource, healthChecker *health.Checker) *Handler {
	return &Handler{jobs: jobs, logs: logSource, health: healthChecker}
}

// ListJobs handles GET /v1/jobs?queue=q&status=RUNNING. Both parameters
// repeat; omitting one means all.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var statuses []job.Status
	for _, raw := range q["status"] {
		st, err := job.ParseStatus(strings.ToUpper(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		statuses = append(statuses, st)
	}

	descs, err := h.jobs.List(r.Context(), q["queue"], statuses)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": descs})
}

// GetJob handles GET /v1/jobs/{jobId}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	desc, err := h.jobs.Describe(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}

// TerminateJob handles DELETE /v1/jobs/{jobId}?reason=...
func (h *Handler) TerminateJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Terminate(r.Context(), chi.URLParam(r, "jobId"), r.URL.Query().Get("reason")); err != nil {
		h.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLogs handles GET /v1/jobs/{jobId}/logs?head=N or ?tail=N
func (h *Handler) GetLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		h.handleError(w, r, apperrors.Unimplemented("log access"))
		return
	}
	opts, err := logOptions(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	desc, err := h.jobs.Describe(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if desc.LogStream == "" {
		h.handleError(w, r, apperrors.NotFound("log stream for job", desc.ID))
		return
	}

	reader, err := h.logs.Open(desc.LogStream, opts)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	events, err := reader.Read(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	lines := make([]string, len(events))
	for i, e := range events {
		lines[i] = e.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":         desc.ID,
		"logStreamName": desc.LogStream,
		"events":        lines,
	})
}

func logOptions(r *http.Request) (logs.Options, error) {
	var opts logs.Options
	for name, dst := range map[string]*int{"head": &opts.Head, "tail": &opts.Tail} {
		raw := r.URL.Query().Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return opts, apperrors.Validation(name, name+" must be a non-negative integer")
		}
		*dst = n
	}
	if opts.Head == 0 && opts.Tail == 0 {
		opts.Tail = defaultLogLines
	}
	return opts, nil
}

// Livez handles GET /livez. It never checks dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Liveness(r.Context()))
}

// Readyz handles GET /readyz. A degraded response is still ready; only a
// failed required dependency returns 503.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if response.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}
	writeError(w, status, err.Error())
}
