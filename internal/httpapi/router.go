package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/xrayfleet/xrayfleet/internal/auth"
)

// Routes builds the admin router. Everything except the health check
// requires a bearer token.
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		r.Get("/v1/engines", s.ListEngines)
		r.Get("/v1/engines/{id}", s.GetEngine)
		r.Post("/v1/engines/{id}/restart", s.RestartEngine)
		r.Delete("/v1/engines/dead", s.RemoveDeadEngines)

		r.Get("/v1/subscriptions", s.ListSubscriptions)
		r.Post("/v1/subscriptions", s.CreateSubscription)
		r.Delete("/v1/subscriptions/{id}", s.DeleteSubscription)

		r.Get("/v1/users", s.ListUsers)
		r.Post("/v1/users", s.CreateUser)
		r.Delete("/v1/users/{id}", s.DeleteUser)

		r.Get("/v1/outbox/parked", s.ListParkedOutbox)
		r.Get("/v1/tasks/parked", s.ListParkedTasks)
	})

	log.Info().Msg("admin routes registered")
	return r
}
