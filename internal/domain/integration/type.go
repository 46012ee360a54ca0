// Package integration holds the domain model of the outbound event-integration
// delivery engine: integration types, failure categories and their retry
// semantics, the integration message that travels through the brokers, and the
// result a provider sender reports after a delivery attempt.
package integration

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Type identifies a third-party delivery target.
type Type int

const (
	Webhook Type = iota + 1
	Slack
	Teams
	Datadog
	Hec
)

var typeNames = map[Type]string{
	Webhook: "webhook",
	Slack:   "slack",
	Teams:   "teams",
	Datadog: "datadog",
	Hec:     "hec",
}

// Types returns every supported integration type in declaration order.
func Types() []Type {
	return []Type{Webhook, Slack, Teams, Datadog, Hec}
}

// String returns the lower-case name of the type.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Valid reports whether t is one of the supported integration types.
func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// RoutingKey returns the key used to route a published message to the
// per-type queue when all types share one exchange or topic.
func (t Type) RoutingKey() string {
	return t.String()
}

// ParseType converts a type name (case-insensitive) into a Type.
func ParseType(name string) (Type, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for t, n := range typeNames {
		if n == normalized {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, name)
}

// MarshalJSON encodes the type as its name.
func (t Type) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes a type name.
func (t *Type) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode integration type: %w", err)
	}
	parsed, err := ParseType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalYAML encodes the type as its name.
func (t Type) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}
