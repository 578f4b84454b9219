/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/customers/*      Customer accounts, payments, credits, refunds
  /api/sales            Sale creation
  /api/transactions/*   Transaction detail, audit summary, reconciliation
  /metrics              Prometheus scrape endpoint
  /health               Liveness probe

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, reg *prometheus.Registry) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Customer routes
		r.Route("/customers", func(r chi.Router) {
			r.Post("/", h.CreateCustomer)
			r.Get("/{id}", h.GetCustomer)
			r.Get("/{id}/transactions", h.ListCustomerTransactions)
			r.Get("/{id}/audit", h.ListCustomerAudit)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/credits", h.IssueCredit)
			r.Post("/{id}/refunds", h.RecordRefund)
			r.Post("/{id}/reconcile", h.ReconcileCustomer)
		})

		// Sale routes
		r.Post("/sales", h.CreateSale)

		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Get("/{id}", h.GetTransaction)
			r.Get("/{id}/summary", h.TransactionSummary)
			r.Get("/{id}/integrity", h.VerifyIntegrity)
			r.Post("/{id}/reconcile", h.ReconcileTransaction)
			r.Delete("/{id}", h.VoidTransaction)
		})
	})

	// Metrics
	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
