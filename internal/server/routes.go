package server

import (
	"log/slog"
	"net/http"

	"audiopress/internal/metrics"
)

// RouterConfig contains router configuration options.
type RouterConfig struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultRouterConfig returns a RouterConfig with default values.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, m *metrics.Metrics, logger *slog.Logger, cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	// Register routes with method-based patterns (Go 1.22+)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /process", h.Process)
	mux.HandleFunc("POST /process_stream", h.ProcessStream)
	mux.HandleFunc("GET /files/{path...}", h.Files)
	mux.Handle("GET /metrics", m.Handler())

	// Apply middleware chain
	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		metrics.Middleware(m),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
