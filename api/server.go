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
  4. CORS:       Cross-origin requests for management frontends

AUTHENTICATION:
  Privileged routes (loan creation, settlement triggers) require the
  X-Api-Key header matching API_KEY. The comparison is constant-time. When
  API_KEY is empty the privileged group is open, which is the development
  default.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, apiKey string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Api-Key"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Loan routes
		r.Route("/loans", func(r chi.Router) {
			r.With(requireAPIKey(apiKey)).Post("/", h.CreateLoan)

			r.Route("/{uid}", func(r chi.Router) {
				r.Get("/", h.GetLoan)
				r.Get("/movements", h.GetMovements)
				r.Get("/payments", h.GetPayments)
				r.Get("/minimum-payment", h.GetMinimumPayment)
				r.Get("/payment-date", h.GetPaymentDate)
				r.Get("/payment-status", h.GetPaymentStatus)
				r.Get("/total", h.GetTotal)
				r.Post("/payments", h.CreatePayment)
				r.With(requireAPIKey(apiKey)).Post("/settlements", h.SettleLoan)
			})
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAPIKey(apiKey))
			r.Post("/settlements", h.SettleAll)
		})

		// Gateway routes
		r.Route("/gateway", func(r chi.Router) {
			r.Post("/transactions", h.CreateGatewayTransaction)
			r.Post("/confirmation", h.ConfirmGatewayTransaction)
		})
	})

	r.Get("/health", h.Health)

	return r
}

// requireAPIKey guards privileged routes. A constant-time comparison keeps
// the key unrecoverable through timing.
func requireAPIKey(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				got := r.Header.Get("X-Api-Key")
				if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
					writeError(w, http.StatusUnauthorized, "Invalid API key", nil)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
