package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/relaychat/relay/internal/session"
)

// Routes configures and returns the application router.
func Routes(h *Handlers, sessions *session.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(sessions.Middleware)

	r.Post("/signup", h.Signup)
	r.Post("/login", h.Login)
	r.Get("/logout", h.Logout)
	r.Get("/session", h.Session)
	r.Get("/ws", h.WebSocket)
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
