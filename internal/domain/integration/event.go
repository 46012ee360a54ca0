package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event published by the rest of the system, such as a user
// login or an admin policy change.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	Type           string         `json:"type"`
	OrganizationID string         `json:"organization_id"`
	ActingUserID   string         `json:"acting_user_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Date           time.Time      `json:"date"`
	Data           map[string]any `json:"data,omitempty"`
}

// Property looks up a named event property. Well-known fields take priority
// over keys in Data.
func (e Event) Property(name string) (any, bool) {
	switch name {
	case "type":
		return e.Type, true
	case "organization_id":
		return e.OrganizationID, true
	case "acting_user_id":
		return e.ActingUserID, e.ActingUserID != ""
	case "user_id":
		return e.UserID, e.UserID != ""
	}
	v, ok := e.Data[name]
	return v, ok
}

// DecodeEvents parses either a single event object or an array of events.
func DecodeEvents(data []byte) ([]Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("decode events: empty payload")
	}

	if trimmed[0] == '[' {
		var events []Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return events, nil
	}

	var event Event
	if err := json.Unmarshal(trimmed, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []Event{event}, nil
}

// Integration is an organization's configured integration record.
type Integration struct {
	ID             uuid.UUID
	OrganizationID string
	Type           Type
}

// Details is one integration configuration as returned by the configuration
// store: which events it wants, how to render them, and where to send them.
type Details struct {
	IntegrationID  uuid.UUID
	OrganizationID string
	Type           Type

	// EventType restricts the configuration to one event type. Empty matches all.
	EventType string

	Template      string
	Configuration Configuration
	Filters       *FilterGroup
}

// Accepts reports whether the configuration wants the event.
func (d Details) Accepts(e Event) bool {
	if d.OrganizationID != e.OrganizationID {
		return false
	}
	if d.EventType != "" && d.EventType != e.Type {
		return false
	}
	return d.Filters.Matches(e)
}
