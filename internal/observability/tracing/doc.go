// Package tracing holds the process tracer and carries W3C trace context
// across broker hops.
//
// A publisher injects the current span context into message headers and
// the consumer extracts it, so one trace follows an event from the event
// listener through every delivery attempt:
//
//	env := transport.Envelope{ID: id, Body: body, Headers: tracing.Inject(ctx)}
//	...
//	ctx = tracing.Extract(ctx, d.Headers)
//	ctx, span := tracing.GetTracer().Start(ctx, "integration.handle")
package tracing
