// Package server exposes the plugin engine over HTTP so hosts written in
// other languages can drive dispatch and inspect plugins.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/barrersoftware/copilot-plugin-system/internal/core/ports"
	"github.com/barrersoftware/copilot-plugin-system/internal/metrics"
	"github.com/barrersoftware/copilot-plugin-system/internal/registry"
	"github.com/barrersoftware/copilot-plugin-system/pkg/plugin"
)

// RequestTimeout bounds every HTTP request.
const RequestTimeout = 30 * time.Second

// Engine is the part of the runtime the bridge serves.
type Engine interface {
	List() []registry.Summary
	DispatchBefore(ctx context.Context, req plugin.RequestContext) (plugin.RequestContext, error)
	DispatchAfter(ctx context.Context, resp plugin.ResponseContext) (plugin.ResponseContext, error)
}

type Server struct {
	Router *chi.Mux
	Port   int

	engine    Engine
	events    ports.EventStore
	logger    *slog.Logger
	startTime time.Time
	auth      ports.AuthProvider
	http      *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAuth requires a bearer token accepted by provider on /v1 routes.
// Health and metrics stay open.
func WithAuth(provider ports.AuthProvider) Option {
	return func(s *Server) {
		s.auth = provider
	}
}

// New builds the router. events may be nil, in which case /v1/events
// reports 503.
func New(port int, engine Engine, events ports.EventStore, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(metrics.Collect)
	r.Use(TimeoutMiddleware(RequestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "copilot-plugins")
	})

	s := &Server{
		Router:    r,
		Port:      port,
		engine:    engine,
		events:    events,
		logger:    logger,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Get("/healthz", s.handleHealth)
	s.Router.Handle("/metrics", metrics.Handler())

	s.Router.Route("/v1", func(r chi.Router) {
		if s.auth != nil {
			r.Use(AuthMiddleware(s.auth))
		}
		r.Get("/plugins", s.handleListPlugins)
		r.Get("/plugins/{id}", s.handleGetPlugin)
		r.Post("/requests", s.handleBeforeRequest)
		r.Post("/responses", s.handleAfterResponse)
		r.Get("/events", s.handleListEvents)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Start listens on Port in the background. A bind failure is returned
// immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.http = &http.Server{
		Handler:      s.Router,
		ReadTimeout:  RequestTimeout,
		WriteTimeout: RequestTimeout,
	}

	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops a server started with Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
