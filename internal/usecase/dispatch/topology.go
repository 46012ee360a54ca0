package dispatch

import (
	"event-integrations/internal/config"
	"event-integrations/internal/infra/transport"
)

// retrySuffix separates the retry routing key from the dispatch routing key.
const retrySuffix = ".retry"

// Routes are the broker routes of one listener.
type Routes struct {
	Events       transport.Subscription
	Integrations transport.Subscription

	// Retries is nil when retries are rescheduled onto the integration
	// subscription itself.
	Retries *transport.Subscription

	// Dispatch receives freshly rendered messages; Retry receives rescheduled ones.
	Dispatch transport.Target
	Retry    transport.Target
}

// Subscriptions returns every subscription in Routes.
func (r Routes) Subscriptions() []transport.Subscription {
	subs := []transport.Subscription{r.Events, r.Integrations}
	if r.Retries != nil {
		subs = append(subs, *r.Retries)
	}
	return subs
}

// Topology maps a listener configuration to broker routes.
type Topology interface {
	Routes(cfg config.ListenerConfiguration) Routes
}

// QueueTopology routes through named queues bound to a shared exchange by
// routing key. Retries go to a dedicated retry queue.
type QueueTopology struct{}

// Routes implements Topology.
func (QueueTopology) Routes(cfg config.ListenerConfiguration) Routes {
	rk := cfg.RoutingKey()
	retries := transport.Subscription{
		Topic:         cfg.IntegrationTopicName,
		Name:          cfg.IntegrationRetryQueueName,
		RoutingKey:    rk + retrySuffix,
		Prefetch:      cfg.IntegrationPrefetchCount,
		MaxConcurrent: cfg.IntegrationMaxConcurrentCalls,
	}
	return Routes{
		Events: transport.Subscription{
			Topic:         cfg.EventTopicName,
			Name:          cfg.EventQueueName,
			Prefetch:      cfg.EventPrefetchCount,
			MaxConcurrent: cfg.EventMaxConcurrentCalls,
		},
		Integrations: transport.Subscription{
			Topic:         cfg.IntegrationTopicName,
			Name:          cfg.IntegrationQueueName,
			RoutingKey:    rk,
			Prefetch:      cfg.IntegrationPrefetchCount,
			MaxConcurrent: cfg.IntegrationMaxConcurrentCalls,
		},
		Retries:  &retries,
		Dispatch: transport.Target{Topic: cfg.IntegrationTopicName, RoutingKey: rk},
		Retry:    transport.Target{Topic: cfg.IntegrationTopicName, RoutingKey: rk + retrySuffix},
	}
}

// TopicTopology routes through topic subscriptions. The broker schedules
// delayed messages itself, so retries are republished onto the integration
// topic and picked up by the same subscription.
type TopicTopology struct{}

// Routes implements Topology.
func (TopicTopology) Routes(cfg config.ListenerConfiguration) Routes {
	rk := cfg.RoutingKey()
	target := transport.Target{Topic: cfg.IntegrationTopicName, RoutingKey: rk}
	return Routes{
		Events: transport.Subscription{
			Topic:         cfg.EventTopicName,
			Name:          cfg.EventSubscriptionName,
			Prefetch:      cfg.EventPrefetchCount,
			MaxConcurrent: cfg.EventMaxConcurrentCalls,
		},
		Integrations: transport.Subscription{
			Topic:         cfg.IntegrationTopicName,
			Name:          cfg.IntegrationSubscriptionName,
			RoutingKey:    rk,
			Prefetch:      cfg.IntegrationPrefetchCount,
			MaxConcurrent: cfg.IntegrationMaxConcurrentCalls,
		},
		Dispatch: target,
		Retry:    target,
	}
}
