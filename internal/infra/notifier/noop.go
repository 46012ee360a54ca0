package notifier

import (
	"context"
	"log/slog"

	"event-integrations/internal/domain/integration"
)

// DryRunSender logs messages instead of delivering them. It always succeeds,
// which lets a worker run against real topics without reaching providers.
type DryRunSender struct {
	typ    integration.Type
	logger *slog.Logger
}

// NewDryRunSender creates a DryRunSender for t. A nil logger uses slog.Default.
func NewDryRunSender(t integration.Type, logger *slog.Logger) *DryRunSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunSender{typ: t, logger: logger}
}

// NewDryRunRegistry registers a DryRunSender for every integration type.
func NewDryRunRegistry(logger *slog.Logger) *Registry {
	senders := make([]Sender, 0, len(integration.Types()))
	for _, t := range integration.Types() {
		senders = append(senders, NewDryRunSender(t, logger))
	}
	r, _ := NewRegistry(senders...)
	return r
}

// Type implements Sender.
func (d *DryRunSender) Type() integration.Type { return d.typ }

// Send implements Sender.
func (d *DryRunSender) Send(ctx context.Context, m *integration.Message) integration.HandlerResult {
	d.logger.InfoContext(ctx, "Dry run: integration message not delivered",
		slog.String("integration_type", m.Type.String()),
		slog.String("message_id", m.MessageID),
		slog.String("organization_id", m.OrganizationID),
		slog.Int("retry_count", m.RetryCount),
		slog.Int("template_length", len(m.RenderedTemplate)))
	return integration.Succeed(m)
}
