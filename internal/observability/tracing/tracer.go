package tracing

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName identifies spans created by this service.
const TracerName = "event-integrations"

var tracer = otel.Tracer(TracerName)

// GetTracer returns the global tracer.
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return tracer
}
