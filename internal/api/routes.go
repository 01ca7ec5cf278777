package api

import (
	"net/http"

	"batchctl/internal/health"
	"batchctl/internal/observability"

	"github.com/go-chi/chi/v5"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Jobs           JobService
	Logs           LogSource
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	HealthChecker  *health.Checker
	APIKey         string
	AllowedOrigin  string
}

// NewRouter creates the admin HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Jobs, cfg.Logs, cfg.HealthChecker)

	r := chi.NewRouter()
	r.Use(RequestMiddleware(cfg.Metrics), RecoveryMiddleware(), CORSMiddleware(cfg.AllowedOrigin))

	// Health checks and scraping stay unauthenticated.
	r.Get("/livez", handler.Livez)
	r.Get("/readyz", handler.Readyz)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIKey))
		r.Get("/", handler.ListJobs)
		r.Get("/{jobId}", handler.GetJob)
		r.Delete("/{jobId}", handler.TerminateJob)
		r.Get("/{jobId}/logs", handler.GetLogs)
	})

	return r
}
