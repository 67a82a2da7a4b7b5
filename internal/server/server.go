// Package server wires the HTTP routes and owns the listener lifecycle.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mihaisavezi/claude-code-bridge/internal/config"
	"github.com/mihaisavezi/claude-code-bridge/internal/handlers"
	"github.com/mihaisavezi/claude-code-bridge/internal/middleware"
	"github.com/mihaisavezi/claude-code-bridge/internal/router"
	"github.com/mihaisavezi/claude-code-bridge/internal/status"
	"github.com/mihaisavezi/claude-code-bridge/internal/tokens"
)

const shutdownTimeout = 10 * time.Second

type Options struct {
	// BaseDir receives the status file. Empty disables it.
	BaseDir string
	Verbose bool
}

type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	handler http.Handler
	server  *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	rt := router.New(cfg, logger, opts.Verbose)

	var recorder *status.Recorder
	if opts.BaseDir != "" {
		recorder = status.NewRecorder(status.Path(opts.BaseDir, cfg.Port), cfg.Pricing, logger)
	}

	s := &Server{cfg: cfg, logger: logger}
	s.handler = s.routes(rt, tokens.NewCounter(cfg.Tiktoken, logger), recorder)
	return s
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes(rt handlers.Router, counter *tokens.Counter, recorder *status.Recorder) http.Handler {
	ms := middleware.NewMiddlewareSet(s.cfg, s.logger)

	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(ms.DefaultChain().Middlewares()...)
		r.Post("/v1/messages", handlers.NewMessagesHandler(rt, counter, recorder, s.logger).ServeHTTP)
		r.Post("/v1/messages/count_tokens", handlers.NewCountTokensHandler(rt, s.logger).ServeHTTP)
	})

	health := ms.HealthChain().Handler(handlers.NewHealthHandler(s.logger))
	r.Method(http.MethodGet, "/health", health)
	r.Method(http.MethodHead, "/health", health)

	public := ms.PublicChain()
	r.Method(http.MethodGet, "/metrics", public.Handler(promhttp.Handler()))

	r.NotFound(public.Handler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handlers.WriteError(w, s.logger, http.StatusNotFound, "not_found_error", "no route for "+req.Method+" "+req.URL.Path)
	})).ServeHTTP)
	r.MethodNotAllowed(public.Handler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handlers.WriteError(w, s.logger, http.StatusMethodNotAllowed, "invalid_request_error", req.Method+" not allowed on "+req.URL.Path)
	})).ServeHTTP)
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting server", "address", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		s.logger.Info("Server exited")
		return nil
	})

	return g.Wait()
}
