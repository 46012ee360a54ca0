package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"event-integrations/internal/resilience/retry"

	"github.com/google/uuid"
)

// MaxRetryJitter bounds the random delay added on top of the exponential backoff.
const MaxRetryJitter = 3 * time.Second

// Seams for tests.
var (
	now         = time.Now
	retryJitter = func() time.Duration { return retry.UniformJitter(MaxRetryJitter) }
)

// Message is the unit of work delivered to a third-party integration.
// It is owned by exactly one worker at a time; ownership moves through the broker.
type Message struct {
	// Type is fixed at creation.
	Type Type

	// MessageID is a stable identity for logging and deduplication.
	MessageID string

	// OrganizationID is the tenant that owns the integration configuration.
	OrganizationID string

	// RenderedTemplate is the fully rendered payload body, opaque to the pipeline.
	RenderedTemplate string

	// RetryCount is incremented once per ApplyRetry call.
	RetryCount int

	// DelayUntilDate is the earliest time the message may be attempted again.
	DelayUntilDate *time.Time

	// Configuration is the provider reference data matching Type.
	Configuration Configuration
}

// NewMessage creates a message with a fresh MessageID. The message type is
// taken from the configuration variant.
func NewMessage(organizationID, renderedTemplate string, cfg Configuration) *Message {
	return &Message{
		Type:             cfg.Type(),
		MessageID:        uuid.NewString(),
		OrganizationID:   organizationID,
		RenderedTemplate: renderedTemplate,
		Configuration:    cfg,
	}
}

// ApplyRetry records another failed attempt and schedules the next one.
//
// The next attempt is placed 2^RetryCount seconds plus up to three seconds of
// jitter after the base time. The base time is handlerDelayUntil when the
// provider supplied one (for example from Retry-After) and the current time
// otherwise. A handler time in the past is raised to the current time, and the
// result never moves earlier than a previously scheduled DelayUntilDate.
//
// Capping the number of retries is the caller's job.
func (m *Message) ApplyRetry(handlerDelayUntil *time.Time) {
	m.applyRetry(now(), handlerDelayUntil, retryJitter())
}

func (m *Message) applyRetry(current time.Time, handlerDelayUntil *time.Time, jitter time.Duration) {
	m.RetryCount++

	base := current
	if handlerDelayUntil != nil && handlerDelayUntil.After(current) {
		base = *handlerDelayUntil
	}

	next := base.Add(retry.ExponentialDelay(m.RetryCount) + jitter)
	if m.DelayUntilDate != nil && next.Before(*m.DelayUntilDate) {
		next = *m.DelayUntilDate
	}
	m.DelayUntilDate = &next
}

// Due reports whether the message may be attempted at t.
func (m *Message) Due(t time.Time) bool {
	return m.DelayUntilDate == nil || !t.Before(*m.DelayUntilDate)
}

// Validate checks the identity fields and the configuration.
func (m *Message) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownType, int(m.Type))
	}
	if strings.TrimSpace(m.MessageID) == "" {
		return &ValidationError{Field: "message_id", Message: "required"}
	}
	if strings.TrimSpace(m.OrganizationID) == "" {
		return &ValidationError{Field: "organization_id", Message: "required"}
	}
	if m.RetryCount < 0 {
		return &ValidationError{Field: "retry_count", Message: "must be non-negative"}
	}
	if m.Configuration == nil {
		return &ValidationError{Field: "configuration", Message: "required"}
	}
	if m.Configuration.Type() != m.Type {
		return fmt.Errorf("%w: %s message with %s configuration", ErrConfigurationMismatch, m.Type, m.Configuration.Type())
	}
	return m.Configuration.Validate()
}

// messageJSON is the wire shape. The integration type doubles as the
// discriminator for the configuration object.
type messageJSON struct {
	Type             Type            `json:"integration_type"`
	MessageID        string          `json:"message_id"`
	OrganizationID   string          `json:"organization_id"`
	RenderedTemplate string          `json:"rendered_template"`
	RetryCount       int             `json:"retry_count"`
	DelayUntilDate   *time.Time      `json:"delay_until_date,omitempty"`
	Configuration    json.RawMessage `json:"configuration"`
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	raw := json.RawMessage("null")
	if m.Configuration != nil {
		if m.Configuration.Type() != m.Type {
			return nil, fmt.Errorf("%w: %s message with %s configuration", ErrConfigurationMismatch, m.Type, m.Configuration.Type())
		}
		encoded, err := json.Marshal(m.Configuration)
		if err != nil {
			return nil, fmt.Errorf("encode configuration: %w", err)
		}
		raw = encoded
	}

	return json.Marshal(messageJSON{
		Type:             m.Type,
		MessageID:        m.MessageID,
		OrganizationID:   m.OrganizationID,
		RenderedTemplate: m.RenderedTemplate,
		RetryCount:       m.RetryCount,
		DelayUntilDate:   m.DelayUntilDate,
		Configuration:    raw,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire messageJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	var cfg Configuration
	if len(wire.Configuration) > 0 && !bytes.Equal(bytes.TrimSpace(wire.Configuration), []byte("null")) {
		decoded, err := DecodeConfiguration(wire.Type, wire.Configuration)
		if err != nil {
			return err
		}
		cfg = decoded
	}

	*m = Message{
		Type:             wire.Type,
		MessageID:        wire.MessageID,
		OrganizationID:   wire.OrganizationID,
		RenderedTemplate: wire.RenderedTemplate,
		RetryCount:       wire.RetryCount,
		DelayUntilDate:   wire.DelayUntilDate,
		Configuration:    cfg,
	}
	return nil
}

// Encode serialises the message for the broker.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.MessageID, err)
	}
	return data, nil
}

// DecodeMessage parses a broker payload and validates the result.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("decode message %s: %w", m.MessageID, err)
	}
	return &m, nil
}
