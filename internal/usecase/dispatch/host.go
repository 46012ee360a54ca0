package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"event-integrations/internal/config"
	"event-integrations/internal/domain/integration"

	"golang.org/x/sync/errgroup"
)

// SenderFunc finds the sender of an integration type.
type SenderFunc func(t integration.Type) (Sender, bool)

// Host runs one listener per integration type.
type Host struct {
	listeners []*Listener
}

// NewHost creates a listener for every configuration. It fails if any
// configuration has no sender.
func NewHost(cfgs []config.ListenerConfiguration, senders SenderFunc, deps Dependencies) (*Host, error) {
	listeners := make([]*Listener, 0, len(cfgs))
	for _, cfg := range cfgs {
		sender, ok := senders(cfg.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSender, cfg.Type)
		}
		l, err := NewListener(cfg, sender, deps)
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, l)
	}
	return &Host{listeners: listeners}, nil
}

// Listeners returns the hosted listeners.
func (h *Host) Listeners() []*Listener { return h.listeners }

// Run blocks until ctx is cancelled or any listener fails. A failing
// listener stops the others.
func (h *Host) Run(ctx context.Context) error {
	slog.Info("Starting integration listeners", slog.Int("count", len(h.listeners)))

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range h.listeners {
		g.Go(func() error {
			return l.Run(ctx)
		})
	}

	err := g.Wait()
	if err != nil {
		slog.Error("Integration listeners stopped with error", slog.Any("error", err))
		return err
	}
	slog.Info("Integration listeners stopped")
	return nil
}
