package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the store ping made by /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.sourceMiddleware)
	r.Use(s.loggingMiddleware)
	if s.metrics != nil {
		r.Use(s.metricsMiddleware)
	}
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Credential endpoints, rate limited per client address
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.rateLimitMiddleware)
			}
			r.Post("/auth/register", s.handleRegister)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)
		})

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authGate)

			r.Get("/auth/me", s.handleMe)
			r.Get("/auth/audit", s.handleListAuditLogs)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
		})

		// WebSocket (ticket or bearer token)
		r.With(s.wsGate).Get("/ws", s.handleWebSocket)
	})

	return r
}

// buildMetricsRouter serves the Prometheus exposition on the metrics
// listener. It is never mounted on the public API router.
func (s *Server) buildMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// handleHealth reports 503 when the credential store is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	}

	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		if err := s.store.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "component", "store", "error", err)
			body["status"] = "unavailable"
			body["store"] = "unhealthy"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["store"] = "ok"
	}

	writeJSON(w, http.StatusOK, body)
}
