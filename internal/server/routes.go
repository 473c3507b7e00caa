package server

import (
	"log/slog"
	"net/http"

	"github.com/maauso/autocut-api/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// ExposeMetrics serves the Prometheus registry on GET /metrics.
	ExposeMetrics bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		ExposeMetrics:  true,
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	if cfg.ExposeMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Jobs
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("POST /jobs/{id}/transitions", h.TransitionJob)
	mux.HandleFunc("PUT /jobs/{id}/video", h.UploadVideo)

	// Users and credits
	mux.HandleFunc("GET /users/{id}/jobs", h.ListJobs)
	mux.HandleFunc("GET /users/{id}/balance", h.GetBalance)
	mux.HandleFunc("POST /users/{id}/balance/rebuild", h.RebuildBalance)
	mux.HandleFunc("GET /users/{id}/ledger", h.ListLedger)
	mux.HandleFunc("POST /users/{id}/purchases", h.RecordPurchase)
	mux.HandleFunc("POST /users/{id}/bonuses", h.GrantBonus)
	mux.HandleFunc("POST /users/{id}/adjustments", h.Adjust)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
		MetricsMiddleware(),
	)

	return chain(mux)
}
