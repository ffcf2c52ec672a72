package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracer_Disabled(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), "orchestron-test", false)
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), tracer, "dispatch")
	SetError(span, errors.New("boom"), attribute.String(ExecutionIDKey, "exec-1"))
	span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, shutdown(context.Background()))
}

func TestActionAttributes(t *testing.T) {
	attrs := ActionAttributes("exec-1", "a1", 2, "builtin", "echo")

	require.Len(t, attrs, 5)
	assert.Equal(t, attribute.String(ExecutionIDKey, "exec-1"), attrs[0])
	assert.Equal(t, attribute.Int(AttemptKey, 2), attrs[2])
	assert.Equal(t, "builtin", attrs[3].Value.AsString())
}

func TestSpanStatus(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := provider.Tracer("orchestron-test")

	_, failed := StartSpan(context.Background(), tracer, "worker.execute")
	SetError(failed, errors.New("boom"))
	SetActionStatus(failed, "failure")
	failed.End()

	_, succeeded := StartSpan(context.Background(), tracer, "worker.execute")
	SetActionStatus(succeeded, "success")
	succeeded.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "boom", spans[0].Status().Description)
	require.Len(t, spans[0].Events(), 1)
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
	assert.Contains(t, spans[0].Attributes(), attribute.String(ActionStatusKey, "failure"))

	assert.Equal(t, codes.Ok, spans[1].Status().Code)
	assert.Contains(t, spans[1].Attributes(), attribute.String(ActionStatusKey, "success"))
}
