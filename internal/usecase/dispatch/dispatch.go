// Package dispatch moves domain events to third-party integrations.
//
// Each integration type runs three subscriptions: domain events are rendered
// into integration messages, integration messages are handed to the provider
// sender, and failed deliveries are rescheduled through the broker with
// exponential backoff until they succeed or are dead-lettered.
package dispatch

import (
	"context"
	"errors"

	"event-integrations/internal/domain/integration"
)

var (
	// ErrNoSender is returned when a listener is built without a sender.
	ErrNoSender = errors.New("no sender for integration type")

	// ErrMissingDependency is returned when a required collaborator is nil.
	ErrMissingDependency = errors.New("missing dispatch dependency")
)

// ConfigurationStore returns the integration configurations interested in an
// event type for one organization.
type ConfigurationStore interface {
	Details(ctx context.Context, organizationID string, t integration.Type, eventType string) ([]integration.Details, error)
}

// TemplateRenderer renders a configuration's template for an event.
type TemplateRenderer interface {
	Render(ctx context.Context, template string, e integration.Event) (string, error)
}

// DeadLetterSink stores messages that will not be delivered.
type DeadLetterSink interface {
	Insert(ctx context.Context, dl *integration.DeadLetter) error
}

// Sender makes one delivery attempt for one integration type.
type Sender interface {
	Type() integration.Type
	Send(ctx context.Context, m *integration.Message) integration.HandlerResult
}
