package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	// healthCheckTimeout bounds the dependency probes behind /health.
	healthCheckTimeout = 2 * time.Second

	defaultWSPath = "/api/ws"
)

func (s *Server) wsPath() string {
	if s.wsCfg.Path != "" {
		return s.wsCfg.Path
	}
	return defaultWSPath
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get(s.wsPath(), s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/grd", func(r chi.Router) {
			r.Get("/descriptions", s.handleGRDDescriptions)
			r.Get("/summary", s.handleGRDSummary)
			r.Get("/history", s.handleGRDHistory)
		})

		r.Route("/reles", func(r chi.Router) {
			r.Get("/history", s.handleRelayHistory)
			r.Get("/faults", s.handleRelayFaults)
			r.Get("/observer", s.handleGetObserver)
			r.Post("/observer", s.handleSetObserver)
		})
	})

	return r
}

// handleHealth reports liveness and, when configured, database health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.database.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "component", "database", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":  "degraded",
				"version": s.version,
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "up",
		"version": s.version,
	})
}
