package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectExtract_RoundTrip(t *testing.T) {
	InstallPropagator()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, publish := tp.Tracer(TracerName).Start(context.Background(), "integration.publish")
	headers := Inject(ctx)
	publish.End()

	require.Contains(t, headers, "traceparent")

	consumerCtx := Extract(context.Background(), headers)
	_, handle := tp.Tracer(TracerName).Start(consumerCtx, "integration.handle")
	handle.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID())
	assert.Equal(t, spans[0].SpanContext().SpanID(), spans[1].Parent().SpanID())
	assert.True(t, spans[1].Parent().IsRemote())
}

func TestInject_NoSpan(t *testing.T) {
	InstallPropagator()

	assert.Nil(t, Inject(context.Background()))
}

func TestExtract_EmptyHeaders(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, ctx, Extract(ctx, nil))
	assert.False(t, trace.SpanContextFromContext(Extract(ctx, map[string]string{})).IsValid())
}

func TestGetTracer(t *testing.T) {
	assert.NotNil(t, GetTracer())
}
