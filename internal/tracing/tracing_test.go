package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestStartReturnsSpan(t *testing.T) {
	ctx, span := Start(t.Context(), "test.op")
	defer span.End()

	require.NotNil(t, ctx)
	require.NotNil(t, span)
}

func TestRecordErrorNoopOnNil(t *testing.T) {
	_, span := Start(t.Context(), "test.op")
	defer span.End()

	require.NotPanics(t, func() { RecordError(span, nil) })
}

func TestRecordErrorNoPanicOnError(t *testing.T) {
	_, span := Start(t.Context(), "test.op")
	defer span.End()

	require.NotPanics(t, func() { RecordError(span, errors.New("boom")) })
}

func TestTracerReturnsNonNil(t *testing.T) {
	require.Implements(t, (*trace.Tracer)(nil), Tracer())
}
