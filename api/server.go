/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, the middleware stack and the route table that
  connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Access log: One zerolog line per request (status, bytes, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Identity:   Bearer token -> procurement.Actor (everything under /api)

ROUTE GROUPS:
  /health               Liveness, unauthenticated
  /api/requests/*       Request lifecycle
  /api/projects/*       Projects, budgets, managers
  /api/costs            Cost ledger
  /api/users            Directory

SEE ALSO:
  - handlers.go: Handler implementations
  - identity.go: Token verification
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// RouterConfig carries the transport settings the router needs.
type RouterConfig struct {
	JWTSecret   []byte
	CORSOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog(h.log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTSecret))

		r.Route("/requests", func(r chi.Router) {
			r.Get("/", h.ListRequests)
			r.Post("/", h.SaveRequest)
			r.Get("/{id}", h.GetRequest)
			r.Put("/{id}", h.EditRequest)

			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/approve", h.ApproveRequest)
			r.Post("/{id}/send-back-manager", h.SendBackAsManager)
			r.Post("/{id}/send-back-admin-pre", h.SendBackAsAdminPre)
			r.Post("/{id}/send-back-admin-post", h.SendBackAsAdminPost)
			r.Post("/{id}/resubmit-manager", h.ResubmitToManager)
			r.Post("/{id}/resubmit-admin", h.ResubmitToAdmin)
			r.Post("/{id}/order", h.PlaceOrder)
			r.Post("/{id}/ready", h.MarkReady)
			r.Post("/{id}/complete", h.MarkComplete)
			r.Post("/{id}/reject-manager", h.RejectAsManager)
			r.Post("/{id}/reject-admin", h.RejectAsAdmin)
		})

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.FindProjects)
			r.Post("/", h.CreateProject)
			r.Put("/{number}", h.EditProject)
			r.Post("/{number}/inactivate", h.InactivateProject)
			r.Get("/{number}/budget", h.GetBudget)
			r.Get("/{number}/managers", h.ListManagers)
		})

		r.Route("/costs", func(r chi.Router) {
			r.Get("/", h.ListCosts)
			r.Post("/", h.AddCost)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.SaveUser)
		})
	})

	return r
}

// accessLog writes one structured line per request.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info().
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("http request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
