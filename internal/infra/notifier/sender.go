package notifier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/observability/metrics"
	"event-integrations/internal/observability/tracing"
	"event-integrations/internal/resilience/circuitbreaker"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config holds settings shared by the HTTP senders.
type Config struct {
	// Timeout is the HTTP request timeout for provider calls.
	Timeout time.Duration

	// RequestsPerSecond and Burst configure the per-sender rate limiter.
	RequestsPerSecond float64
	Burst             int

	// Breaker overrides the circuit breaker settings. Nil uses
	// circuitbreaker.IntegrationConfig.
	Breaker *circuitbreaker.Config

	// SlackAPIURL overrides the chat.postMessage endpoint.
	SlackAPIURL string

	// HTTPClient replaces the default client. Timeout is ignored when set.
	HTTPClient *http.Client

	// Tracer replaces the global tracer.
	Tracer trace.Tracer

	// Now replaces time.Now.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           10 * time.Second,
		RequestsPerSecond: 10,
		Burst:             10,
	}
}

// requestBuilder builds the provider request for a message.
type requestBuilder func(ctx context.Context, m *integration.Message) (*http.Request, error)

// responseInspector returns the provider error code found in a response, or
// "" when the response carries none.
type responseInspector func(resp *http.Response, body []byte) string

// deliveryError is what the circuit breaker sees for a failed attempt.
type deliveryError struct {
	category integration.FailureCategory
	reason   string
}

func (e *deliveryError) Error() string { return e.reason }

// httpSender is the delivery core shared by every provider sender: rate
// limiting, a circuit breaker per destination host, tracing and outcome
// classification.
type httpSender struct {
	typ     integration.Type
	client  *http.Client
	limiter *RateLimiter
	tracer  trace.Tracer
	now     func() time.Time

	breakers *circuitbreaker.Set

	build   requestBuilder
	inspect responseInspector
}

func newHTTPSender(typ integration.Type, cfg Config, build requestBuilder, inspect responseInspector) *httpSender {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = tracing.GetTracer()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	breakerConfig := circuitbreaker.IntegrationConfig(typ.String())
	if cfg.Breaker != nil {
		breakerConfig = *cfg.Breaker
	}
	// Only provider-side failures count against a destination.
	breakerConfig.IsSuccessful = func(err error) bool {
		de, ok := err.(*deliveryError)
		if !ok {
			return err == nil
		}
		return de.category != integration.ServiceUnavailable && de.category != integration.TransientError
	}

	return &httpSender{
		typ:      typ,
		client:   client,
		limiter:  NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		tracer:   tracer,
		now:      now,
		breakers: circuitbreaker.NewSet(breakerConfig),
		build:    build,
		inspect:  inspect,
	}
}

// Type implements Sender.
func (s *httpSender) Type() integration.Type { return s.typ }

// Send implements Sender.
func (s *httpSender) Send(ctx context.Context, m *integration.Message) integration.HandlerResult {
	ctx, span := s.tracer.Start(ctx, "integration.send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("integration.type", s.typ.String()),
			attribute.String("integration.message_id", m.MessageID),
			attribute.String("integration.organization_id", m.OrganizationID),
			attribute.Int("integration.retry_count", m.RetryCount),
		))
	defer span.End()

	result := s.send(ctx, m)

	if result.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetAttributes(
			attribute.String("integration.failure_category", result.CategoryName()),
			attribute.Bool("integration.retryable", result.Retryable()),
		)
		span.SetStatus(codes.Error, result.FailureReason)
	}
	return result
}

func (s *httpSender) send(ctx context.Context, m *integration.Message) integration.HandlerResult {
	if m.Type != s.typ {
		return integration.Fail(m, integration.ConfigurationError,
			fmt.Sprintf("%s sender cannot deliver %s message", s.typ, m.Type), nil)
	}

	if delay, err := s.limiter.Wait(ctx); err != nil {
		if errors.Is(err, ErrThrottled) {
			retryAt := s.now().Add(delay)
			return integration.Fail(m, integration.RateLimited, err.Error(), &retryAt)
		}
		return integration.Fail(m, integration.TransientError, "rate limiter: "+err.Error(), nil)
	}

	req, err := s.build(ctx, m)
	if err != nil {
		return integration.Fail(m, integration.Classify(integration.Outcome{Err: err}), "build request: "+err.Error(), nil)
	}

	var result integration.HandlerResult
	_, err = circuitbreaker.Do(s.breakers.Get(req.URL.Host), func() (struct{}, error) {
		result = s.do(req, m)
		if result.Success {
			return struct{}{}, nil
		}
		return struct{}{}, &deliveryError{category: *result.Category, reason: result.FailureReason}
	})
	if circuitbreaker.IsRejection(err) {
		retryAt := s.now().Add(s.breakers.Timeout())
		slog.WarnContext(ctx, "Delivery rejected by circuit breaker",
			slog.String("integration_type", s.typ.String()),
			slog.String("host", req.URL.Host),
			slog.String("message_id", m.MessageID))
		return integration.Fail(m, integration.ServiceUnavailable,
			fmt.Sprintf("circuit breaker open for %s", req.URL.Host), &retryAt)
	}
	return result
}

func (s *httpSender) do(req *http.Request, m *integration.Message) integration.HandlerResult {
	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordProviderError(s.typ.String(), time.Since(start))
		return integration.Fail(m, integration.Classify(integration.Outcome{Err: err}), "execute http request: "+err.Error(), nil)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	metrics.RecordProviderRequest(s.typ.String(), resp.StatusCode, time.Since(start), len(body))

	code := ""
	if s.inspect != nil {
		code = s.inspect(resp, body)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && code == "" {
		return integration.Succeed(m)
	}

	category := integration.Classify(integration.Outcome{StatusCode: resp.StatusCode, ProviderError: code})
	reason := fmt.Sprintf("%s responded %d", s.typ, resp.StatusCode)
	if code != "" {
		reason += " (" + code + ")"
	}
	if len(body) > 0 {
		reason += ": " + truncate(string(body), maxReasonBody, reasonTruncationSuffix)
	}

	return integration.Fail(m, category, reason, parseRetryAfter(resp.Header, body, s.now()))
}
