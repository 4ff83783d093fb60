/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/clients/*   Client, balance, payment, and settlement operations
  /api/payments/*  Record-level operations (release, delete)
  /api/invoices/*  Invoice management
  /api/admin/*     Reconciliation scan, recompute, reset, demo seed
  /metrics         Prometheus metrics

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/payments", h.ListClientPayments)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/settlements", h.SettleInvoice)
			r.Get("/{id}/invoices", h.ListClientInvoices)
		})

		// Payment record routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/release", h.ReleaseAllocation)
			r.Delete("/{id}", h.DeletePayment)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.CreateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Get("/{id}/payments", h.ListInvoicePayments)
			r.Put("/{id}/total", h.UpdateInvoiceTotal)
			r.Post("/{id}/cancel", h.CancelInvoice)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/reconcile", h.RunReconciliation)
			r.Post("/recompute/{invoiceID}", h.RecomputeInvoice)
			r.Post("/reset", h.ResetDatabase)
			r.Post("/seed", h.SeedDemoData)
		})
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.HandlerFor(h.Metrics.Registry, promhttp.HandlerOpts{}))

	return r
}
