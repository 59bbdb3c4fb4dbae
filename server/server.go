// Package server assembles the router, the middleware stack and the
// http.Server around the todo handlers.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/netutil"

	"github.com/giygas/todo-api/auth"
	"github.com/giygas/todo-api/config"
	"github.com/giygas/todo-api/handlers"
	"github.com/giygas/todo-api/logging"
	"github.com/giygas/todo-api/metrics"
	"github.com/giygas/todo-api/ratelimit"
)

// Store is the persistence all routes need together
type Store interface {
	handlers.UserStore
	handlers.TodoStore
}

// Deps are the collaborators a Server routes to
type Deps struct {
	Config  *config.Config
	Store   Store
	Tokens  *auth.TokenManager
	Health  http.Handler
	Metrics *metrics.Instrumentation
	Limits  *ratelimit.Chain
}

type Server struct {
	server *http.Server
	router chi.Router
	config *config.Config
	deps   Deps
	errors *ErrorHandler
}

func NewServer(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Store == nil || deps.Tokens == nil ||
		deps.Health == nil || deps.Metrics == nil || deps.Limits == nil {
		return nil, errors.New("server: incomplete dependencies")
	}

	router := chi.NewRouter()
	cfg := deps.Config

	s := &Server{
		router: router,
		config: cfg,
		deps:   deps,
		errors: NewErrorHandler(deps.Metrics, cfg.IsDevelopment()),
		server: &http.Server{
			Addr:           cfg.ListenAddr(),
			Handler:        router,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: int(cfg.MaxHeaderSize),
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	// requests rejected before routing still get a route pattern
	deps.Metrics.SetRouteResolver(metrics.RouteResolver(router))

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(RealIPMiddleware(s.config.TrustedPrefixes))
	s.router.Use(logging.RequestLogger(logging.Logger(), metrics.SanitizeAddr))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.config.CORSOrigin, ","),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	s.router.Use(RequestSizeMiddleware(s.config.MaxRequestBody, s.config.MaxHeaderSize, s.errors))
	s.router.Use(s.deps.Limits.Middleware)
	s.router.Use(s.deps.Metrics.Middleware)
	s.router.Use(Recoverer(s.errors))
}

func (s *Server) setupRoutes() {
	exposition := s.deps.Metrics.Registry().Handler()
	s.router.Method(http.MethodGet, "/", exposition)
	s.router.Method(http.MethodGet, "/metrics", exposition)
	s.router.Method(http.MethodGet, "/health", s.deps.Health)

	authHandler := handlers.NewAuthHandler(s.deps.Store, s.deps.Tokens)
	s.router.Method(http.MethodPost, "/api/auth/register", s.errors.Wrap(authHandler.Register))
	s.router.Method(http.MethodPost, "/api/auth/login", s.errors.Wrap(authHandler.Login))

	todos := handlers.NewTodoHandler(s.deps.Store)
	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(s.deps.Tokens, s.errors.Handle))
		r.Method(http.MethodGet, "/api/todos", s.errors.Wrap(todos.List))
		r.Method(http.MethodPost, "/api/todos", s.errors.Wrap(todos.Create))
		r.Method(http.MethodPut, "/api/todos/{id}", s.errors.Wrap(todos.Update))
		r.Method(http.MethodDelete, "/api/todos/{id}", s.errors.Wrap(todos.Delete))
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errors.Handle(w, r, notFoundRoute())
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errors.Handle(w, r, methodNotAllowed(r))
	})
}

// Handler is the full middleware stack and router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts on ln, capped at MaxConnections when configured.
// A normal shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	if s.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.config.MaxConnections)
	}

	logging.Info("Starting server", "address", ln.Addr().String(), "env", s.config.Env.String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting and waits for in-flight requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close force-closes every connection still open
func (s *Server) Close() error {
	return s.server.Close()
}
