package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/mcpkit/internal/config"
)

// TracerSetup holds the OTel TracerProvider and the tracer used for
// operation spans. It is owned by the Infrastructure, never set globally.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup creates an OTel TracerProvider with an OTLP exporter.
// The exporter connects lazily, so an unreachable collector does not fail here.
func NewTracerSetup(serviceName, version string, cfg config.TracingConfig) (*TracerSetup, error) {
	ctx := context.Background()

	if serviceName == "" {
		serviceName = "mcpkit"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default: // "grpc" or empty
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)

	return &TracerSetup{
		provider: tp,
		tracer:   tp.Tracer(serviceName),
	}, nil
}

// Tracer returns the named tracer for creating spans.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t.tracer
}

// Shutdown flushes any pending spans and shuts down the TracerProvider.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// sampler honours the parent's decision and samples new traces at rate.
// A rate outside (0, 1) samples everything, so an unset rate keeps all traces.
func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

const operationSpanPrefix = "mcp.operation/"

// startOperationSpan opens the server span for one operation invocation.
func startOperationSpan(ctx context.Context, tracer trace.Tracer, rec RequestRecord) (context.Context, trace.Span) {
	return tracer.Start(ctx, operationSpanPrefix+rec.Operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(rec.Start),
		trace.WithAttributes(
			attribute.String("mcp.operation", rec.Operation),
			attribute.String("mcp.client_id", rec.ClientID),
			attribute.String("mcp.request_id", rec.ID),
		))
}

// endOperationSpan records the outcome of rec on span and ends it.
func endOperationSpan(span trace.Span, rec RequestRecord, err error) {
	span.SetAttributes(
		attribute.String("mcp.outcome", rec.Outcome),
		attribute.Int64("mcp.duration_ms", rec.Duration.Milliseconds()),
	)
	if err != nil {
		span.SetAttributes(attribute.String("mcp.error_kind", rec.ErrorKind))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End(trace.WithTimestamp(rec.Start.Add(rec.Duration)))
}
