// Package notifier delivers integration messages to third-party providers.
//
// There is one Sender per integration type. A sender never returns provider
// errors to its caller; every attempt ends in an integration.HandlerResult
// whose failure category comes from integration.Classify.
package notifier

import (
	"context"
	"fmt"
	"sort"

	"event-integrations/internal/domain/integration"
)

// Sender delivers messages of one integration type.
type Sender interface {
	// Type returns the integration type this sender handles.
	Type() integration.Type

	// Send makes one delivery attempt. It must not retry internally; retries
	// are scheduled by the dispatch pipeline through the broker.
	Send(ctx context.Context, m *integration.Message) integration.HandlerResult
}

// Registry maps integration types to senders.
type Registry struct {
	senders map[integration.Type]Sender
}

// NewRegistry creates a registry. Registering two senders for one type is an error.
func NewRegistry(senders ...Sender) (*Registry, error) {
	r := &Registry{senders: make(map[integration.Type]Sender, len(senders))}
	for _, s := range senders {
		if _, dup := r.senders[s.Type()]; dup {
			return nil, fmt.Errorf("duplicate sender for %s", s.Type())
		}
		r.senders[s.Type()] = s
	}
	return r, nil
}

// NewDefaultRegistry registers the HTTP sender of every integration type.
func NewDefaultRegistry(cfg Config) *Registry {
	r, _ := NewRegistry(
		NewWebhookSender(cfg),
		NewSlackSender(cfg),
		NewTeamsSender(cfg),
		NewDatadogSender(cfg),
		NewHecSender(cfg),
	)
	return r
}

// Get returns the sender for t.
func (r *Registry) Get(t integration.Type) (Sender, bool) {
	s, ok := r.senders[t]
	return s, ok
}

// Types returns the registered types in ascending order.
func (r *Registry) Types() []integration.Type {
	types := make([]integration.Type, 0, len(r.senders))
	for t := range r.senders {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
