package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/infra/transport"
	"event-integrations/internal/observability/tracing"
)

// EventHandler turns domain events into integration messages for one type.
type EventHandler struct {
	typ       integration.Type
	store     ConfigurationStore
	renderer  TemplateRenderer
	publisher transport.Publisher
	target    transport.Target
}

// NewEventHandler creates an EventHandler publishing to target.
func NewEventHandler(t integration.Type, store ConfigurationStore, renderer TemplateRenderer, publisher transport.Publisher, target transport.Target) *EventHandler {
	return &EventHandler{
		typ:       t,
		store:     store,
		renderer:  renderer,
		publisher: publisher,
		target:    target,
	}
}

// Handle implements transport.Handler.
//
// An undecodable payload is logged and acknowledged. A store or publish
// failure is returned so the broker redelivers the whole batch; consumers of
// integration messages must tolerate the resulting duplicates.
func (h *EventHandler) Handle(ctx context.Context, d transport.Delivery) error {
	ctx = tracing.Extract(ctx, d.Headers)

	events, err := integration.DecodeEvents(d.Body)
	if err != nil {
		slog.ErrorContext(ctx, "Dropping undecodable event payload",
			slog.String("integration_type", h.typ.String()),
			slog.String("delivery_id", d.ID),
			slog.Any("error", err))
		return nil
	}

	for _, e := range events {
		RecordEventReceived(h.typ.String())
		if err := h.handleEvent(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *EventHandler) handleEvent(ctx context.Context, e integration.Event) error {
	details, err := h.store.Details(ctx, e.OrganizationID, h.typ, e.Type)
	if err != nil {
		return fmt.Errorf("load %s configurations for organization %s: %w", h.typ, e.OrganizationID, err)
	}

	for _, detail := range details {
		if detail.Type != h.typ || !detail.Accepts(e) {
			continue
		}

		rendered, err := h.renderer.Render(ctx, detail.Template, e)
		if err != nil {
			RecordRenderFailure(h.typ.String())
			slog.WarnContext(ctx, "Skipping integration: template render failed",
				slog.String("integration_type", h.typ.String()),
				slog.String("integration_id", detail.IntegrationID.String()),
				slog.String("organization_id", e.OrganizationID),
				slog.String("event_id", e.ID.String()),
				slog.Any("error", err))
			continue
		}

		m := integration.NewMessage(e.OrganizationID, rendered, detail.Configuration)
		body, err := m.Encode()
		if err != nil {
			slog.ErrorContext(ctx, "Skipping integration: message encode failed",
				slog.String("integration_type", h.typ.String()),
				slog.String("integration_id", detail.IntegrationID.String()),
				slog.Any("error", err))
			continue
		}

		if err := h.publisher.Publish(ctx, h.target, transport.Envelope{ID: m.MessageID, Body: body, Headers: tracing.Inject(ctx)}); err != nil {
			return fmt.Errorf("publish %s message: %w", h.typ, err)
		}
		RecordMessagePublished(h.typ.String())
		slog.DebugContext(ctx, "Integration message published",
			slog.String("integration_type", h.typ.String()),
			slog.String("message_id", m.MessageID),
			slog.String("organization_id", m.OrganizationID),
			slog.String("event_id", e.ID.String()))
	}
	return nil
}
