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
  4. CORS:       Cross-origin requests for back-office tooling

ROUTE GROUPS:
  /api/accounts/*  Ledger commands, balances, transfer history
  /api/rules/*     Earning rule management
  /api/evaluate/*  Rule engine evaluation

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
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", h.CreateAccount)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transfers", h.ListTransfers)
			r.Post("/{id}/points", h.AddPoints)
			r.Post("/{id}/spend", h.SpendPoints)
			r.Post("/{id}/reset", h.ResetPoints)
			r.Post("/{id}/transfers/{transferId}/unlock", h.UnlockTransfer)
			r.Post("/{id}/transfers/{transferId}/expire", h.ExpireTransfer)
			r.Post("/{id}/transfers/{transferId}/cancel", h.CancelTransfer)
		})

		// Rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.SaveRule)
			r.Get("/{id}", h.GetRule)
			r.Delete("/{id}", h.DeleteRule)
		})

		// Evaluation routes
		r.Route("/evaluate", func(r chi.Router) {
			r.Post("/transaction", h.EvaluateTransaction)
			r.Post("/event", h.EvaluateEvent)
			r.Post("/referral", h.EvaluateReferral)
			r.Post("/geo", h.EvaluateGeo)
		})
	})

	return r
}
