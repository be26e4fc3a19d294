package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mcpkit/internal/toolerr"
)

// DefaultClientID is used when an invocation does not carry a client_id argument.
const DefaultClientID = "default"

// OperationFunc is the implementation behind a monitored operation.
type OperationFunc func(ctx context.Context, args map[string]any) (any, error)

// MonitoredOperation wraps an OperationFunc with rate limiting, timing,
// metrics, tracing and logging.
type MonitoredOperation struct {
	name  string
	fn    OperationFunc
	infra *Infrastructure
}

// Wrap returns fn decorated with the monitoring middleware.
func (i *Infrastructure) Wrap(name string, fn OperationFunc) *MonitoredOperation {
	return &MonitoredOperation{name: name, fn: fn, infra: i}
}

// Name returns the operation name.
func (op *MonitoredOperation) Name() string { return op.name }

// ClientID extracts the caller identity from invocation arguments.
func ClientID(args map[string]any) string {
	if s, ok := args["client_id"].(string); ok && s != "" {
		return s
	}
	return DefaultClientID
}

// Invoke runs the operation. A rate-limited invocation fails with
// *toolerr.RateLimitError without calling the implementation; implementation
// errors are returned unchanged. Bookkeeping also completes when the
// implementation panics, and the panic is then re-raised.
func (op *MonitoredOperation) Invoke(ctx context.Context, args map[string]any) (any, error) {
	infra := op.infra
	infra.Ensure()

	logger := infra.logger
	metrics := infra.metrics
	client := ClientID(args)
	key := op.name + ":" + client
	rec := RequestRecord{
		ID:        uuid.NewString(),
		Operation: op.name,
		ClientID:  client,
		Start:     time.Now(),
	}

	if err := infra.limiter.Allow(key); err != nil {
		rec.Outcome = OutcomeRateLimited
		infra.requests.Reject(rec)
		if metrics != nil {
			metrics.RequestsTotal.WithLabelValues(op.name, OutcomeRateLimited).Inc()
		}
		logger.Warn("operation rate limited",
			slog.String("operation", op.name),
			slog.String("request_id", rec.ID),
			slog.String("client_id", client),
		)
		return nil, &toolerr.RateLimitError{Operation: op.name, ClientID: client}
	}

	ctx, span := startOperationSpan(ctx, infra.Tracer(), rec)

	infra.requests.Begin()
	if metrics != nil {
		metrics.ActiveRequests.Inc()
	}
	attrs := []any{
		slog.String("operation", op.name),
		slog.String("request_id", rec.ID),
		slog.String("client_id", client),
	}
	if r, ok := infra.limiter.(interface{ Remaining(string) int }); ok {
		attrs = append(attrs, slog.Int("rate_remaining", r.Remaining(key)))
	}
	logger.Info("operation started", attrs...)

	// A panicking implementation is recorded as an unexpected failure before
	// the panic continues up to the transport's recovery handler.
	defer func() {
		if p := recover(); p != nil {
			op.finish(span, rec, fmt.Errorf("operation %s panicked: %v", op.name, p))
			panic(p)
		}
	}()

	result, err := op.fn(ctx, args)
	op.finish(span, rec, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// finish records the end of an admitted invocation: request log, metrics,
// span and the completion log line.
func (op *MonitoredOperation) finish(span trace.Span, rec RequestRecord, err error) {
	infra := op.infra
	metrics := infra.metrics
	rec.Duration = time.Since(rec.Start)

	if metrics != nil {
		metrics.ActiveRequests.Dec()
	}

	if err != nil {
		rec.Outcome = OutcomeError
		rec.ErrorKind = toolerr.KindOf(err)
		infra.requests.Finish(rec)
		if metrics != nil {
			metrics.RequestsTotal.WithLabelValues(op.name, OutcomeError).Inc()
			metrics.ErrorsTotal.WithLabelValues(op.name, rec.ErrorKind).Inc()
		}
		endOperationSpan(span, rec, err)
		infra.logger.Error("operation failed",
			slog.String("operation", op.name),
			slog.String("request_id", rec.ID),
			slog.Duration("duration", rec.Duration),
			slog.String("error_kind", rec.ErrorKind),
			slog.String("error", err.Error()),
		)
		return
	}

	rec.Outcome = OutcomeSuccess
	infra.requests.Finish(rec)
	if metrics != nil {
		metrics.RequestsTotal.WithLabelValues(op.name, OutcomeSuccess).Inc()
		metrics.RequestDuration.WithLabelValues(op.name).Observe(rec.Duration.Seconds())
	}
	endOperationSpan(span, rec, nil)
	infra.logger.Info("operation completed",
		slog.String("operation", op.name),
		slog.String("request_id", rec.ID),
		slog.Duration("duration", rec.Duration),
	)
}
