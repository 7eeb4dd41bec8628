// Package tracing wraps the install and lifecycle operations in spans.
// Only the tracer is carried here; logs and metrics go through slog.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/argon-hosting/daemon"

// Tracer returns the process-wide tracer. With no SDK configured by
// cmd/argond, otel.Tracer resolves to the no-op implementation — spans
// compile and cost nothing until a real exporter is wired in.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Start begins a span named name as a child of ctx. Callers defer
// span.End().
func Start(ctx context.Context, name string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name)
}

// RecordError marks span as failed and attaches err, if non-nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
