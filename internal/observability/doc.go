// Package observability groups the logging, metrics and tracing support used
// by the delivery engine.
//
// Subpackages:
//   - logging: slog handler construction from LOG_LEVEL and LOG_FORMAT
//   - metrics: Prometheus collectors for provider requests, breakers and the dead-letter DB
//   - tracing: OpenTelemetry tracer access and W3C trace context over message headers
//
// Example usage:
//
//	import (
//	    "event-integrations/internal/observability/logging"
//	    "event-integrations/internal/observability/tracing"
//	)
//
//	func main() {
//	    slog.SetDefault(logging.NewLogger())
//	    tracing.InstallPropagator()
//	}
package observability
