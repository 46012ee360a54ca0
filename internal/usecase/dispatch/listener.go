package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"event-integrations/internal/config"
	"event-integrations/internal/infra/transport"

	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators shared by every listener.
type Dependencies struct {
	Transport   transport.Transport
	Topology    Topology
	Store       ConfigurationStore
	Renderer    TemplateRenderer
	DeadLetters DeadLetterSink

	// Options are applied to every IntegrationHandler.
	Options []IntegrationHandlerOption
}

func (d Dependencies) validate() error {
	switch {
	case d.Transport == nil:
		return fmt.Errorf("%w: transport", ErrMissingDependency)
	case d.Topology == nil:
		return fmt.Errorf("%w: topology", ErrMissingDependency)
	case d.Store == nil:
		return fmt.Errorf("%w: configuration store", ErrMissingDependency)
	case d.Renderer == nil:
		return fmt.Errorf("%w: template renderer", ErrMissingDependency)
	case d.DeadLetters == nil:
		return fmt.Errorf("%w: dead-letter sink", ErrMissingDependency)
	}
	return nil
}

// Listener runs the event, integration and retry subscriptions of one
// integration type.
type Listener struct {
	cfg          config.ListenerConfiguration
	routes       Routes
	subscriber   transport.Subscriber
	events       *EventHandler
	integrations *IntegrationHandler
}

// NewListener wires the handlers of cfg.Type to the routes of deps.Topology.
func NewListener(cfg config.ListenerConfiguration, sender Sender, deps Dependencies) (*Listener, error) {
	if sender == nil || sender.Type() != cfg.Type {
		return nil, fmt.Errorf("%w: %s", ErrNoSender, cfg.Type)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	routes := deps.Topology.Routes(cfg)
	for _, sub := range routes.Subscriptions() {
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("%s listener: %w", cfg.Type, err)
		}
	}

	return &Listener{
		cfg:        cfg,
		routes:     routes,
		subscriber: deps.Transport,
		events:     NewEventHandler(cfg.Type, deps.Store, deps.Renderer, deps.Transport, routes.Dispatch),
		integrations: NewIntegrationHandler(sender, deps.DeadLetters, deps.Transport, routes.Retry,
			cfg.MaxRetries, deps.Options...),
	}, nil
}

// Config returns the listener configuration.
func (l *Listener) Config() config.ListenerConfiguration { return l.cfg }

// Routes returns the resolved broker routes.
func (l *Listener) Routes() Routes { return l.routes }

// Run subscribes every route and blocks until ctx is cancelled or a
// subscription fails.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return l.subscribe(ctx, l.routes.Events, l.events.Handle)
	})
	g.Go(func() error {
		return l.subscribe(ctx, l.routes.Integrations, l.integrations.Handle)
	})
	if l.routes.Retries != nil {
		retries := *l.routes.Retries
		g.Go(func() error {
			return l.subscribe(ctx, retries, l.integrations.Handle)
		})
	}

	return g.Wait()
}

func (l *Listener) subscribe(ctx context.Context, sub transport.Subscription, h transport.Handler) error {
	slog.Info("Subscription started",
		slog.String("integration_type", l.cfg.Type.String()),
		slog.String("topic", sub.Topic),
		slog.String("subscription", sub.Name),
		slog.String("routing_key", sub.RoutingKey),
		slog.Int("prefetch", sub.Prefetch),
		slog.Int("max_concurrent", sub.MaxConcurrent))

	if err := l.subscriber.Subscribe(ctx, sub, h); err != nil {
		return fmt.Errorf("%s subscription %s: %w", l.cfg.Type, sub.Name, err)
	}

	slog.Info("Subscription stopped",
		slog.String("integration_type", l.cfg.Type.String()),
		slog.String("subscription", sub.Name))
	return nil
}
