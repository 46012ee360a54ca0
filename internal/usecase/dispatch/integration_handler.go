package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/infra/transport"
	"event-integrations/internal/observability/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IntegrationHandler delivers integration messages of one type and decides
// what happens to each failed attempt.
type IntegrationHandler struct {
	typ         integration.Type
	sender      Sender
	deadLetters DeadLetterSink
	publisher   transport.Publisher
	retryTarget transport.Target
	maxRetries  int
	tracer      trace.Tracer
	now         func() time.Time
}

// IntegrationHandlerOption configures an IntegrationHandler.
type IntegrationHandlerOption func(*IntegrationHandler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) IntegrationHandlerOption {
	return func(h *IntegrationHandler) { h.now = now }
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) IntegrationHandlerOption {
	return func(h *IntegrationHandler) { h.tracer = tracer }
}

// NewIntegrationHandler creates a handler that republishes retries to retryTarget.
func NewIntegrationHandler(sender Sender, deadLetters DeadLetterSink, publisher transport.Publisher, retryTarget transport.Target, maxRetries int, opts ...IntegrationHandlerOption) *IntegrationHandler {
	h := &IntegrationHandler{
		typ:         sender.Type(),
		sender:      sender,
		deadLetters: deadLetters,
		publisher:   publisher,
		retryTarget: retryTarget,
		maxRetries:  maxRetries,
		tracer:      tracing.GetTracer(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements transport.Handler.
//
// It returns nil once the message is delivered, rescheduled or dead-lettered,
// a *transport.DeferError when the message arrived before its retry time, and
// any other error when the outcome could not be recorded so that the broker
// redelivers the original.
func (h *IntegrationHandler) Handle(ctx context.Context, d transport.Delivery) error {
	m, err := integration.DecodeMessage(d.Body)
	if err == nil && m.Type != h.typ {
		err = fmt.Errorf("%w: %s message on %s listener", integration.ErrConfigurationMismatch, m.Type, h.typ)
	}
	if err != nil {
		return h.deadLetterPoison(ctx, d, err)
	}

	now := h.now()
	if !m.Due(now) {
		RecordDeferred(h.typ.String())
		slog.DebugContext(ctx, "Message redelivered before retry time",
			slog.String("integration_type", h.typ.String()),
			slog.String("message_id", m.MessageID),
			slog.Time("delay_until", *m.DelayUntilDate))
		return transport.Defer(*m.DelayUntilDate)
	}

	ctx, span := h.tracer.Start(tracing.Extract(ctx, d.Headers), "integration.handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("integration.type", h.typ.String()),
			attribute.String("integration.message_id", m.MessageID),
			attribute.Int("integration.retry_count", m.RetryCount),
			attribute.Bool("messaging.redelivered", d.Redelivered),
		))
	defer span.End()

	RecordAttempt(h.typ.String())
	result := h.sender.Send(ctx, m)
	duration := h.now().Sub(now)

	if result.Success {
		RecordResult(h.typ.String(), "success", duration)
		span.SetStatus(codes.Ok, "")
		slog.InfoContext(ctx, "Integration message delivered",
			slog.String("integration_type", h.typ.String()),
			slog.String("message_id", m.MessageID),
			slog.String("organization_id", m.OrganizationID),
			slog.Int("retry_count", m.RetryCount),
			slog.Duration("send_duration", duration))
		return nil
	}

	RecordResult(h.typ.String(), result.CategoryName(), duration)
	span.SetAttributes(attribute.String("integration.failure_category", result.CategoryName()))
	span.SetStatus(codes.Error, result.FailureReason)

	if !result.Retryable() {
		slog.ErrorContext(ctx, "Integration delivery failed permanently",
			slog.String("integration_type", h.typ.String()),
			slog.String("message_id", m.MessageID),
			slog.String("organization_id", m.OrganizationID),
			slog.String("category", result.CategoryName()),
			slog.String("reason", result.FailureReason))
		return h.deadLetter(ctx, integration.NewDeadLetter(m, integration.CauseNonRetryable, result, d.Body, h.now()))
	}

	m.ApplyRetry(result.DelayUntilDate)
	if m.RetryCount > h.maxRetries {
		slog.ErrorContext(ctx, "Integration retries exhausted",
			slog.String("integration_type", h.typ.String()),
			slog.String("message_id", m.MessageID),
			slog.String("organization_id", m.OrganizationID),
			slog.Int("retry_count", m.RetryCount),
			slog.Int("max_retries", h.maxRetries),
			slog.String("category", result.CategoryName()),
			slog.String("reason", result.FailureReason))
		return h.deadLetter(ctx, integration.NewDeadLetter(m, integration.CauseRetriesExhausted, result, d.Body, h.now()))
	}

	return h.scheduleRetry(ctx, m, result)
}

func (h *IntegrationHandler) scheduleRetry(ctx context.Context, m *integration.Message, result integration.HandlerResult) error {
	body, err := m.Encode()
	if err != nil {
		return err
	}

	env := transport.Envelope{ID: m.MessageID, Body: body, Headers: tracing.Inject(ctx), NotBefore: *m.DelayUntilDate}
	if err := h.publisher.Publish(ctx, h.retryTarget, env); err != nil {
		return fmt.Errorf("publish retry of %s: %w", m.MessageID, err)
	}

	RecordRetryScheduled(h.typ.String())
	slog.WarnContext(ctx, "Integration delivery failed, retry scheduled",
		slog.String("integration_type", h.typ.String()),
		slog.String("message_id", m.MessageID),
		slog.String("organization_id", m.OrganizationID),
		slog.Int("retry_count", m.RetryCount),
		slog.String("category", result.CategoryName()),
		slog.String("reason", result.FailureReason),
		slog.Time("delay_until", *m.DelayUntilDate))
	return nil
}

func (h *IntegrationHandler) deadLetter(ctx context.Context, dl *integration.DeadLetter) error {
	if err := h.deadLetters.Insert(ctx, dl); err != nil {
		return fmt.Errorf("dead-letter %s: %w", dl.MessageID, err)
	}
	RecordDeadLetter(h.typ.String(), string(dl.Cause))
	return nil
}

// deadLetterPoison stores a payload that can never be delivered, keeping
// whatever identity fields can still be read from it.
func (h *IntegrationHandler) deadLetterPoison(ctx context.Context, d transport.Delivery, cause error) error {
	var ids struct {
		MessageID      string `json:"message_id"`
		OrganizationID string `json:"organization_id"`
		RetryCount     int    `json:"retry_count"`
	}
	_ = json.Unmarshal(d.Body, &ids)

	slog.ErrorContext(ctx, "Dead-lettering undecodable integration message",
		slog.String("integration_type", h.typ.String()),
		slog.String("delivery_id", d.ID),
		slog.String("message_id", ids.MessageID),
		slog.Any("error", cause))

	return h.deadLetter(ctx, &integration.DeadLetter{
		ID:             integration.PoisonDeadLetterID(h.typ, d.Body),
		Type:           h.typ,
		MessageID:      ids.MessageID,
		OrganizationID: ids.OrganizationID,
		RetryCount:     ids.RetryCount,
		Cause:          integration.CauseUndecodable,
		Reason:         cause.Error(),
		Payload:        d.Body,
		CreatedAt:      h.now(),
	})
}
