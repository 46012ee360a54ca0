package redisstream

import (
	"encoding/json"
	"fmt"

	"event-integrations/internal/infra/transport"
)

// entry is the stream and delayed-set representation of a message.
// Subscription is set only when a deferred message is meant for one group.
type entry struct {
	ID           string            `json:"id"`
	RoutingKey   string            `json:"routing_key,omitempty"`
	Body         []byte            `json:"body"`
	Subscription string            `json:"subscription,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

func (e entry) values() map[string]any {
	values := map[string]any{
		fieldID:   e.ID,
		fieldBody: string(e.Body),
	}
	if e.RoutingKey != "" {
		values[fieldRoutingKey] = e.RoutingKey
	}
	if e.Subscription != "" {
		values[fieldSubscription] = e.Subscription
	}
	if len(e.Headers) > 0 {
		encoded, _ := json.Marshal(e.Headers)
		values[fieldHeaders] = string(encoded)
	}
	return values
}

func (e entry) belongsTo(sub transport.Subscription) bool {
	if e.Subscription != "" && e.Subscription != sub.Name {
		return false
	}
	return sub.Matches(e.RoutingKey)
}

func parseEntry(values map[string]any) (entry, error) {
	id, err := parseString(values, fieldID)
	if err != nil {
		return entry{}, err
	}
	body, err := parseString(values, fieldBody)
	if err != nil {
		return entry{}, err
	}
	var headers map[string]string
	if raw := parseOptionalString(values, fieldHeaders); raw != "" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return entry{}, fmt.Errorf("decode %s: %w", fieldHeaders, err)
		}
	}
	return entry{
		ID:           id,
		RoutingKey:   parseOptionalString(values, fieldRoutingKey),
		Body:         []byte(body),
		Subscription: parseOptionalString(values, fieldSubscription),
		Headers:      headers,
	}, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
