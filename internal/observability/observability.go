// Package observability provides the lazily-initialized infrastructure shared by
// every exposed operation: logging, Prometheus metrics, rate limiting and
// OpenTelemetry tracing, plus the monitoring middleware that applies them.
//
// Each facility is built at most once, on first use, from the configuration the
// Infrastructure was constructed with. A disabled or unavailable facility
// degrades to a no-op; it never fails an invocation.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/mcpkit/internal/config"
	"github.com/jkaninda/mcpkit/internal/ratelimit"
)

// Infrastructure is the explicitly constructed bundle of optional facilities.
// Pass it to whatever builds monitored operations.
type Infrastructure struct {
	cfg     *config.Config
	out     io.Writer
	started time.Time

	loggingOnce sync.Once
	metricsOnce sync.Once
	limiterOnce sync.Once
	tracingOnce sync.Once

	logger   *slog.Logger
	health   *HealthChecker
	metrics  *MetricsCollector // nil when disabled
	server   *MetricsServer    // nil when disabled or not bound
	limiter  ratelimit.Limiter
	limiting bool
	tracer   *TracerSetup // nil when disabled

	requests *RequestLog
}

// Option customizes an Infrastructure.
type Option func(*Infrastructure)

// WithLogOutput sets where logs are written. Default: stderr.
func WithLogOutput(w io.Writer) Option {
	return func(i *Infrastructure) { i.out = w }
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Infrastructure) { i.logger = logger }
}

// New creates an Infrastructure with nothing initialized yet.
func New(cfg *config.Config, opts ...Option) *Infrastructure {
	i := &Infrastructure{
		cfg:      cfg,
		out:      os.Stderr,
		started:  time.Now(),
		requests: NewRequestLog(DefaultRequestLogSize),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ensure initializes every facility. Safe to call repeatedly and concurrently.
func (i *Infrastructure) Ensure() {
	i.EnsureLogging()
	i.EnsureTracing()
	i.EnsureMetrics()
	i.EnsureRateLimiting()
}

// EnsureLogging builds the logger: JSON when structured logging is enabled,
// human-readable otherwise.
func (i *Infrastructure) EnsureLogging() {
	i.loggingOnce.Do(func() {
		if i.logger == nil {
			i.logger = newLogger(i.out,
				i.cfg.Features.StructuredLogging,
				parseLevel(i.cfg.LogLevel, i.cfg.Debug),
				i.cfg.ServerName,
			)
		}
		i.health = NewHealthChecker(i.logger)
		i.logger.Debug("logging initialized",
			slog.Bool("structured", i.cfg.Features.StructuredLogging),
		)
	})
}

// EnsureTracing builds the OTLP tracer when tracing is enabled.
func (i *Infrastructure) EnsureTracing() {
	i.tracingOnce.Do(func() {
		if !i.cfg.Features.Tracing {
			return
		}
		logger := i.Logger()
		ts, err := NewTracerSetup(i.cfg.ServerName, i.cfg.Version, i.cfg.Tracing)
		if err != nil {
			logger.Warn("tracing unavailable, continuing without it", slog.String("error", err.Error()))
			return
		}
		i.tracer = ts
		logger.Info("tracing initialized",
			slog.String("endpoint", i.cfg.Tracing.Endpoint),
			slog.String("protocol", i.cfg.Tracing.Protocol),
		)
	})
}

// EnsureMetrics builds the metrics registry and starts the exposition endpoint.
// Port 0 or a bind failure leaves metrics recorded in-process only.
func (i *Infrastructure) EnsureMetrics() {
	i.metricsOnce.Do(func() {
		if !i.cfg.Features.Metrics {
			return
		}
		logger := i.Logger()
		i.metrics = NewMetricsCollector(i.cfg.ServerName)

		if i.cfg.MetricsPort == 0 {
			logger.Info("metrics endpoint disabled")
			return
		}
		addr := fmt.Sprintf("%s:%d", i.cfg.Host, i.cfg.MetricsPort)
		srv := NewMetricsServer(addr, i.metrics, i.Health(), i.Tracer(), logger)
		if err := srv.Start(); err != nil {
			logger.Warn("metrics endpoint unavailable, continuing without it", slog.String("error", err.Error()))
			return
		}
		i.server = srv
	})
}

// EnsureRateLimiting builds the fixed-window limiter when rate limiting is enabled.
func (i *Infrastructure) EnsureRateLimiting() {
	i.limiterOnce.Do(func() {
		i.limiter = ratelimit.Unlimited{}
		if !i.cfg.Features.RateLimiting {
			return
		}
		rate, err := i.cfg.Rate()
		if err != nil {
			i.Logger().Warn("rate limiting unavailable, continuing without it", slog.String("error", err.Error()))
			return
		}
		i.limiter = ratelimit.NewFixedWindow(rate)
		i.limiting = true
		i.Logger().Info("rate limiting initialized", slog.String("rate", rate.String()))
	})
}

// Logger returns the process logger.
func (i *Infrastructure) Logger() *slog.Logger {
	i.EnsureLogging()
	return i.logger
}

// Health returns the readiness checker.
func (i *Infrastructure) Health() *HealthChecker {
	i.EnsureLogging()
	return i.health
}

// Metrics returns the collector, or nil when metrics are disabled.
func (i *Infrastructure) Metrics() *MetricsCollector {
	i.EnsureMetrics()
	return i.metrics
}

// Limiter returns the active limiter. Never nil.
func (i *Infrastructure) Limiter() ratelimit.Limiter {
	i.EnsureRateLimiting()
	return i.limiter
}

// Tracer returns the OTel tracer, or a no-op tracer when tracing is disabled.
func (i *Infrastructure) Tracer() trace.Tracer {
	i.EnsureTracing()
	if i.tracer == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return i.tracer.Tracer()
}

// Requests returns the request log.
func (i *Infrastructure) Requests() *RequestLog { return i.requests }

// Config returns the configuration the infrastructure was built from.
func (i *Infrastructure) Config() *config.Config { return i.cfg }

// Uptime returns the time since construction.
func (i *Infrastructure) Uptime() time.Duration { return time.Since(i.started) }

// FeatureStatus reports which facilities are active.
type FeatureStatus struct {
	Metrics           bool `json:"metrics"`
	StructuredLogging bool `json:"structured_logging"`
	RateLimiting      bool `json:"rate_limiting"`
	Tracing           bool `json:"tracing"`
}

// Features initializes everything and reports what is active.
func (i *Infrastructure) Features() FeatureStatus {
	i.Ensure()
	return FeatureStatus{
		Metrics:           i.metrics != nil,
		StructuredLogging: i.cfg.Features.StructuredLogging,
		RateLimiting:      i.limiting,
		Tracing:           i.tracer != nil,
	}
}

// Shutdown stops the metrics endpoint and flushes pending spans.
func (i *Infrastructure) Shutdown(ctx context.Context) error {
	var errs []error
	if i.server != nil {
		errs = append(errs, i.server.Shutdown(ctx))
	}
	if i.tracer != nil {
		errs = append(errs, i.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
