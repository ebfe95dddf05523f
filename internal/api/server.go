package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"anon/internal/core"
	"anon/internal/logger"
	"anon/internal/service"
)

// Deps are the collaborators the HTTP layer needs. Limiter and Debugger
// are optional.
type Deps struct {
	Auth        *service.AuthService
	Users       core.UserRepository
	Tokens      *service.TokenEngine
	CSRF        *service.CSRF
	Sessions    sessions.Store
	SessionName string
	Limiter     *RateLimiter
	Debugger    *logger.Debugger
}

type Server struct {
	auth        *service.AuthService
	users       core.UserRepository
	tokens      *service.TokenEngine
	csrf        *service.CSRF
	sessions    sessions.Store
	sessionName string
	limiter     *RateLimiter
	debugger    *logger.Debugger
	csrfExempt  map[string]bool
}

func NewServer(d Deps) *Server {
	if d.SessionName == "" {
		d.SessionName = "anon_session"
	}
	return &Server{
		auth:        d.Auth,
		users:       d.Users,
		tokens:      d.Tokens,
		csrf:        d.CSRF,
		sessions:    d.Sessions,
		sessionName: d.SessionName,
		limiter:     d.Limiter,
		debugger:    d.Debugger,
		// No session exists to bind a token to before these succeed.
		csrfExempt: map[string]bool{"/auth/login": true, "/auth/setup": true},
	}
}

// Routes builds the router. /health, /auth/login, /auth/setup, /auth/csrf
// and /auth/check must be on the token whitelist to be reachable anonymously.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(LoggingMiddleware)
	r.Use(s.SessionMiddleware)
	r.Use(s.TokenMiddleware)
	r.Use(s.CSRFMiddleware)

	r.Get("/health", s.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/login", s.Login)
			r.Post("/setup", s.Setup)
		})
		r.Get("/csrf", s.CSRFToken)
		r.Get("/check", s.Check)
		r.Post("/refresh", s.Refresh)
		r.Post("/logout", s.Logout)
	})

	r.Route("/api/users", func(r chi.Router) {
		r.Get("/", s.ListUsers)
		r.Post("/", s.CreateUser)
		r.Get("/{uid}", s.GetUser)
	})

	if s.debugger != nil && s.debugger.Enabled() {
		r.Get("/debug/queries", s.RecentQueries)
	}

	return r
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

func (s *Server) RecentQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": s.debugger.Queries()})
}
