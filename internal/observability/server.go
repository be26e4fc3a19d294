package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// MetricsServer exposes /metrics, /healthz and /readyz over HTTP.
type MetricsServer struct {
	addr    string
	metrics *MetricsCollector
	health  *HealthChecker
	tracer  trace.Tracer
	logger  *slog.Logger

	okapi  *okapi.Okapi
	server *http.Server
}

// NewMetricsServer creates the exposition server. It does not listen until Start.
func NewMetricsServer(addr string, metrics *MetricsCollector, health *HealthChecker, tracer trace.Tracer, logger *slog.Logger) *MetricsServer {
	return &MetricsServer{
		addr:    addr,
		metrics: metrics,
		health:  health,
		tracer:  tracer,
		logger:  logger,
		okapi:   okapi.New(),
	}
}

// Start binds the address and serves in the background on that listener.
// A bind failure is returned to the caller; serve errors after startup are logged.
// okapi's StartServer is not used: it rebinds the address and prints a banner
// to stdout, which the stdio transport owns.
func (s *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding metrics endpoint %s: %w", s.addr, err)
	}

	s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return HTTPMetricsMiddleware(s.metrics, s.tracer, next)
	})
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)
	if s.metrics != nil {
		s.okapi.HandleStd("GET", "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.server = &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.okapi,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("metrics endpoint starting", slog.String("addr", s.server.Addr))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics endpoint stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops the server if it was started, waiting for in-flight
// requests until ctx is done.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	s.logger.Info("metrics endpoint stopping")
	return s.okapi.Shutdown(s.server, ctx)
}

func (s *MetricsServer) handleLiveness(c *okapi.Context) error {
	return c.OK(s.health.CheckHealth())
}

// handleReadiness runs the registered checks and returns 200 or 503.
func (s *MetricsServer) handleReadiness(c *okapi.Context) error {
	status := s.health.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
