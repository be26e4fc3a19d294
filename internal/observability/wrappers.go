package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/mcpkit/internal/sandbox"
	"github.com/jkaninda/mcpkit/internal/toolerr"
)

// Command execution outcomes.
const (
	CommandSuccess     = "success"
	CommandNonZeroExit = "nonzero_exit"
	CommandTimeout     = "timeout"
	CommandError       = "error"
)

// InstrumentedSandbox wraps a sandbox.Sandbox with metrics and tracing.
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string // "process" or "docker"
	infra       *Infrastructure
}

// NewInstrumentedSandbox wraps a sandbox with observability.
func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, infra *Infrastructure) *InstrumentedSandbox {
	return &InstrumentedSandbox{
		inner:       inner,
		sandboxType: sandboxType,
		infra:       infra,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	ctx, span := s.infra.Tracer().Start(ctx, "sandbox.execute",
		trace.WithAttributes(
			attribute.String("sandbox.type", s.sandboxType),
		))
	defer span.End()

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	outcome := commandOutcome(result, err)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case outcome == CommandNonZeroExit:
		span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
	}

	if metrics := s.infra.Metrics(); metrics != nil {
		metrics.CommandExecutionsTotal.WithLabelValues(outcome).Inc()
		metrics.CommandDuration.Observe(duration)
	}

	return result, err
}

func commandOutcome(result *sandbox.ExecutionResult, err error) string {
	switch {
	case errors.Is(err, toolerr.ErrCommandTimeout):
		return CommandTimeout
	case err != nil:
		return CommandError
	case result != nil && result.ExitCode != 0:
		return CommandNonZeroExit
	default:
		return CommandSuccess
	}
}

var _ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
