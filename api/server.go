/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

ROUTE GROUPS:
  /api/load/*          Raw layer loading
  /api/merge/*         Dimension and fact merges
  /api/dimensions/*    Dimension reads
  /api/costs/*         Fact reads
  /api/analytics/*     Reporting queries
  /api/reconciliation  Reconciliation report
  /api/reset           Database reset (dev only)

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

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Loading routes
		r.Route("/load", func(r chi.Router) {
			r.Post("/usage", h.LoadUsage)
		})
		r.Post("/seed", h.Seed)

		// Merge routes
		r.Route("/merge", func(r chi.Router) {
			r.Post("/services", h.MergeServices)
			r.Post("/customers", h.MergeCustomers)
			r.Post("/facts", h.MergeFacts)
		})

		// Dimension routes
		r.Route("/dimensions", func(r chi.Router) {
			r.Get("/services", h.ListServices)
			r.Get("/customers", h.ListCustomerVersions)
		})

		// Fact routes
		r.Route("/costs", func(r chi.Router) {
			r.Get("/daily", h.ListDailyCosts)
			r.Get("/customers", h.ListCustomerCosts)
		})

		// Analytics routes
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/top-services", h.TopServices)
			r.Get("/month-over-month", h.MonthOverMonth)
			r.Get("/trend", h.CostTrend)
			r.Get("/anomalies", h.Anomalies)
		})

		r.Get("/reconciliation", h.Reconcile)
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}
