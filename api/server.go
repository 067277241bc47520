/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request, picked up by the logger
  2. Logging:    Request-scoped slog logger and completion line
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request counter by route pattern
  5. CORS:       Cross-origin requests for the web client

ROUTE GROUPS:
  /health, /metrics     Unauthenticated
  /api/*                Bearer token required

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Authenticate middleware
  - cli/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/merit-ledger/logging"
	"github.com/warp/merit-ledger/metrics"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Logger         *logging.Logger
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(h.Authenticate)

		r.Get("/me", h.Me)
		r.Get("/templates", h.Templates)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})

		// Balance routes
		r.Get("/persons/{id}/{kind}/summary", h.Summary)

		// Ledger routes, one set per kind
		r.Route("/{kind}", func(r chi.Router) {
			r.Route("/grants", func(r chi.Router) {
				r.Get("/", h.ListGrants)
				r.Post("/", h.CreateGrant)
				r.Get("/pending", h.PendingGrants)
				r.Get("/awaiting-approval", h.AwaitingApproval)
				r.Get("/counts", h.GrantCounts)
				r.Get("/{id}", h.GetGrant)
				r.Post("/{id}/verify", h.VerifyGrant)
				r.Post("/{id}/approve", h.ApproveGrant)
				r.Delete("/{id}", h.DeleteGrant)
			})

			r.Route("/redemptions", func(r chi.Router) {
				r.Get("/", h.ListRedemptions)
				r.Post("/", h.Redeem)
			})
		})
	})

	return r
}
