/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests

ROUTE GROUPS:
  /api/render           Render a ledger
  /api/runs/*           Stored renders
  /api/policies/*       Seed policies
  /healthz, /readyz     Liveness and readiness (when Health is set)
  /metrics              Prometheus metrics (when Metrics is set)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	origins := h.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	if h.Health != nil {
		r.Get("/healthz", h.Health.LivenessHandler)
		r.Get("/readyz", h.Health.ReadinessHandler)
	}
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/render", h.Render)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListRuns)
			r.Get("/{id}", h.GetRun)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
			r.Post("/resolve", h.ResolvePolicy)
			r.Delete("/{key}", h.DeletePolicy)
		})
	})

	return r
}
