package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the HTTP listener for the API, health, and metrics endpoints.
type Server struct {
	api      *APIHandler
	health   *HealthChecker
	registry *prometheus.Registry
	metrics  *Metrics
	addr     string
	logger   *slog.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithHealthChecker sets the /health handler.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) { s.health = hc }
}

// WithRegistry serves reg on /metrics. Runtime collectors and the HTTP
// metrics are registered on it, so it must not already hold them.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// NewServer creates a server for api.
func NewServer(api *APIHandler, opts ...Option) *Server {
	s := &Server{
		api:    api,
		addr:   "127.0.0.1:8080",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(s.registry)
	return s
}

// Handler returns the full middleware chain around the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.api.Register(mux)

	if s.health != nil {
		mux.Handle("GET /health", s.health.Handler())
	} else {
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
		})
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	var handler http.Handler = mux
	handler = MetricsMiddleware(s.metrics)(handler)
	handler = RequestIDMiddleware(s.logger)(handler)
	return handler
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down HTTP server")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return err
	}
	s.logger.Info("HTTP server shutdown complete")
	return nil
}
