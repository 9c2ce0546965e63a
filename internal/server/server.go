package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/swapgate/swapgate/internal/errors"
	"github.com/swapgate/swapgate/internal/observability"
	"github.com/swapgate/swapgate/internal/server/handlers"
	servermw "github.com/swapgate/swapgate/internal/server/middleware"
)

// Routes holds the request handlers the proxy serves. Nil handlers leave their routes unregistered.
type Routes struct {
	Price      http.Handler
	Quote      http.Handler
	Tokens     *handlers.TokenHandler
	AdminToken string
}

// Timeouts bounds the underlying http.Server.
type Timeouts struct {
	Read  time.Duration
	Write time.Duration
	Idle  time.Duration
}

var defaultTimeouts = Timeouts{Read: 30 * time.Second, Write: 30 * time.Second, Idle: 120 * time.Second}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	host     string
	port     int
	timeouts Timeouts
}

// New creates the proxy server with its middleware chain and routes.
func New(host string, port int, routes Routes) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.CORS)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router:   r,
		host:     host,
		port:     port,
		timeouts: defaultTimeouts,
	}

	handlers.SetHTTPErrorResponder(HandleError)
	s.registerRoutes(routes)

	return s
}

// SetTimeouts overrides the server timeouts; zero values keep the defaults.
func (s *Server) SetTimeouts(t Timeouts) {
	if t.Read > 0 {
		s.timeouts.Read = t.Read
	}
	if t.Write > 0 {
		s.timeouts.Write = t.Write
	}
	if t.Idle > 0 {
		s.timeouts.Idle = t.Idle
	}
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Starting HTTP server",
			zap.String("host", s.host),
			zap.Int("port", s.port),
			zap.String("addr", addr))
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if logger := observability.ServerLogger; logger != nil {
		logger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}
