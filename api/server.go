/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (logrus)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for operator tooling

ROUTE GROUPS:
  /api/plans/*          Lines of credit, postings, flags, manual jobs
  /api/loans/*          Loan closure
  /api/jobs/*           Scheduler runs and history
  /api/accounts/*       Per-account ledger history
  /api/instructions     Ledger audit
  /api/products/*       Product presets
  /api/reset            Database reset (dev only)
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", h.ListPlans)
			r.Post("/", h.OpenPlan)
			r.Get("/{id}", h.GetPlan)
			r.Get("/{id}/balances", h.GetBalances)
			r.Get("/{id}/derived", h.GetDerived)
			r.Put("/{id}/credit-limit", h.AmendCreditLimit)
			r.Put("/{id}/due-day", h.ChangeDueDay)
			r.Post("/{id}/drawdowns", h.Drawdown)
			r.Post("/{id}/repayments", h.Repay)
			r.Post("/{id}/events", h.RunEvent)
			r.Get("/{id}/flags", h.ListFlags)
			r.Post("/{id}/flags", h.SetFlag)
			r.Delete("/{id}/flags/{name}", h.ClearFlag)
		})

		r.Post("/loans/{id}/close", h.CloseLoan)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/run", h.RunJobs)
			r.Get("/runs", h.ListJobRuns)
		})

		r.Get("/accounts/{id}/instructions", h.ListAccountInstructions)
		r.Get("/instructions", h.ListInstructions)
		r.Get("/products/presets", h.ListPresets)
		r.Post("/reset", h.ResetDatabase)
	})

	return r
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
			}).Info("request")
		})
	}
}
