package dispatch

import (
	"context"
	"log/slog"

	"event-integrations/internal/domain/integration"
)

// LoggingDeadLetterSink logs dead letters instead of storing them. It is used
// when no database is configured.
type LoggingDeadLetterSink struct{}

// Insert implements DeadLetterSink.
func (LoggingDeadLetterSink) Insert(ctx context.Context, dl *integration.DeadLetter) error {
	slog.ErrorContext(ctx, "Integration message dead-lettered",
		slog.String("dead_letter_id", dl.ID.String()),
		slog.String("integration_type", dl.Type.String()),
		slog.String("message_id", dl.MessageID),
		slog.String("organization_id", dl.OrganizationID),
		slog.Int("retry_count", dl.RetryCount),
		slog.String("cause", string(dl.Cause)),
		slog.String("category", dl.Category),
		slog.String("reason", dl.Reason))
	return nil
}
