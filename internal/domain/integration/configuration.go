package integration

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Configuration is the provider-specific reference data a sender needs to
// deliver a message. Each integration type has exactly one variant.
type Configuration interface {
	// Type returns the integration type this variant belongs to.
	Type() Type

	// Validate checks that the configuration can be used for delivery.
	Validate() error
}

// WebhookConfiguration targets an arbitrary HTTP endpoint.
type WebhookConfiguration struct {
	URI    string `json:"uri"`
	Scheme string `json:"scheme,omitempty"` // e.g. "Bearer"; empty sends no Authorization header
	Token  string `json:"token,omitempty"`
}

// SlackConfiguration targets a Slack channel through the Web API.
type SlackConfiguration struct {
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
}

// TeamsConfiguration targets a Microsoft Teams channel through the Bot connector.
type TeamsConfiguration struct {
	ServiceURI string `json:"service_uri"`
	TenantID   string `json:"tenant_id"`
	TeamID     string `json:"team_id"`
	ChannelID  string `json:"channel_id"`
	Token      string `json:"token"`
}

// DatadogConfiguration targets the Datadog events intake.
type DatadogConfiguration struct {
	URI    string `json:"uri"`
	APIKey string `json:"api_key"`
}

// HecConfiguration targets a Splunk HTTP Event Collector or a compatible endpoint.
type HecConfiguration struct {
	URI    string `json:"uri"`
	Scheme string `json:"scheme,omitempty"` // defaults to "Splunk"
	Token  string `json:"token"`
}

func (WebhookConfiguration) Type() Type { return Webhook }
func (SlackConfiguration) Type() Type   { return Slack }
func (TeamsConfiguration) Type() Type   { return Teams }
func (DatadogConfiguration) Type() Type { return Datadog }
func (HecConfiguration) Type() Type     { return Hec }

func (c WebhookConfiguration) Validate() error {
	if err := validateURI("uri", c.URI); err != nil {
		return err
	}
	if c.Scheme != "" && c.Token == "" {
		return &ValidationError{Field: "token", Message: "required when scheme is set"}
	}
	return nil
}

func (c SlackConfiguration) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return &ValidationError{Field: "token", Message: "required"}
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		return &ValidationError{Field: "channel_id", Message: "required"}
	}
	return nil
}

func (c TeamsConfiguration) Validate() error {
	if err := validateURI("service_uri", c.ServiceURI); err != nil {
		return err
	}
	if strings.TrimSpace(c.ChannelID) == "" {
		return &ValidationError{Field: "channel_id", Message: "required"}
	}
	if strings.TrimSpace(c.Token) == "" {
		return &ValidationError{Field: "token", Message: "required"}
	}
	return nil
}

func (c DatadogConfiguration) Validate() error {
	if err := validateURI("uri", c.URI); err != nil {
		return err
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return &ValidationError{Field: "api_key", Message: "required"}
	}
	return nil
}

func (c HecConfiguration) Validate() error {
	if err := validateURI("uri", c.URI); err != nil {
		return err
	}
	if strings.TrimSpace(c.Token) == "" {
		return &ValidationError{Field: "token", Message: "required"}
	}
	return nil
}

// validateURI accepts absolute http(s) URLs with a host.
func validateURI(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Field: field, Message: "required"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedURL, field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s: scheme must be http or https", ErrMalformedURL, field)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %s: missing host", ErrMalformedURL, field)
	}
	return nil
}

// DecodeConfiguration decodes the variant that belongs to t.
func DecodeConfiguration(t Type, raw json.RawMessage) (Configuration, error) {
	var (
		cfg Configuration
		err error
	)
	switch t {
	case Webhook:
		var c WebhookConfiguration
		err = json.Unmarshal(raw, &c)
		cfg = c
	case Slack:
		var c SlackConfiguration
		err = json.Unmarshal(raw, &c)
		cfg = c
	case Teams:
		var c TeamsConfiguration
		err = json.Unmarshal(raw, &c)
		cfg = c
	case Datadog:
		var c DatadogConfiguration
		err = json.Unmarshal(raw, &c)
		cfg = c
	case Hec:
		var c HecConfiguration
		err = json.Unmarshal(raw, &c)
		cfg = c
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s configuration: %w", t, err)
	}
	return cfg, nil
}
