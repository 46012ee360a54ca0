package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/infra/transport"
)

// scriptedSender returns results from respond and records every attempt.
type scriptedSender struct {
	typ     integration.Type
	respond func(attempt int, m *integration.Message) integration.HandlerResult

	mu       sync.Mutex
	attempts []integration.Message
}

func (s *scriptedSender) Type() integration.Type { return s.typ }

func (s *scriptedSender) Send(_ context.Context, m *integration.Message) integration.HandlerResult {
	s.mu.Lock()
	attempt := len(s.attempts)
	s.attempts = append(s.attempts, *m)
	s.mu.Unlock()
	return s.respond(attempt, m)
}

func (s *scriptedSender) Attempts() []integration.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]integration.Message(nil), s.attempts...)
}

func alwaysSucceed(_ int, m *integration.Message) integration.HandlerResult {
	return integration.Succeed(m)
}

func alwaysFail(category integration.FailureCategory) func(int, *integration.Message) integration.HandlerResult {
	return func(_ int, m *integration.Message) integration.HandlerResult {
		return integration.Fail(m, category, "provider said no", nil)
	}
}

type published struct {
	target transport.Target
	env    transport.Envelope
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, target transport.Target, env transport.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{target: target, env: env})
	return nil
}

func (p *recordingPublisher) Sent() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.sent...)
}

type recordingSink struct {
	mu      sync.Mutex
	letters []*integration.DeadLetter
	err     error
}

func (s *recordingSink) Insert(_ context.Context, dl *integration.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.letters = append(s.letters, dl)
	return nil
}

func (s *recordingSink) Letters() []*integration.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*integration.DeadLetter(nil), s.letters...)
}

var errBroker = errors.New("broker unavailable")

func webhookConfig() integration.WebhookConfiguration {
	return integration.WebhookConfiguration{URI: "https://hooks.example.com/in"}
}

func encodedMessage(m *integration.Message) []byte {
	b, err := m.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
