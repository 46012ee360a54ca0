package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"event-integrations/internal/domain/integration"

	"gopkg.in/yaml.v3"
)

// ErrMissingSettings is returned when a listener configuration cannot be built
// because required settings are absent.
var ErrMissingSettings = errors.New("missing listener settings")

// Settings holds the global listener settings loaded at startup.
// MaxRetries is a pointer so that an absent key is reported as missing
// instead of silently meaning zero retries.
type Settings struct {
	MaxRetries           *int                           `yaml:"max_retries"`
	EventTopicName       string                         `yaml:"event_topic_name"`
	IntegrationTopicName string                         `yaml:"integration_topic_name"`
	Integrations         map[string]IntegrationSettings `yaml:"integrations"`
}

// IntegrationSettings holds the names and limits for one integration type.
// Nil prefetch or concurrency values take the package defaults; explicit
// values must be positive.
type IntegrationSettings struct {
	EventQueueName                string `yaml:"event_queue_name"`
	IntegrationQueueName          string `yaml:"integration_queue_name"`
	IntegrationRetryQueueName     string `yaml:"integration_retry_queue_name"`
	EventSubscriptionName         string `yaml:"event_subscription_name"`
	IntegrationSubscriptionName   string `yaml:"integration_subscription_name"`
	EventPrefetchCount            *int   `yaml:"event_prefetch_count"`
	EventMaxConcurrentCalls       *int   `yaml:"event_max_concurrent_calls"`
	IntegrationPrefetchCount      *int   `yaml:"integration_prefetch_count"`
	IntegrationMaxConcurrentCalls *int   `yaml:"integration_max_concurrent_calls"`
}

// Defaults applied when prefetch or concurrency values are absent.
// DefaultMaxRetries is only used by DefaultSettings; a settings file must
// name max_retries explicitly.
const (
	DefaultPrefetchCount      = 10
	DefaultMaxConcurrentCalls = 4
	DefaultMaxRetries         = 5
)

// LoadSettings loads listener settings from a YAML file.
// The path parameter is expected to come from a trusted source (environment or hardcoded default).
func LoadSettings(path string) (*Settings, error) {
	// #nosec G304 -- path is provided by trusted source (env var or default), not user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read listener settings: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse listener settings: %w", err)
	}

	return &settings, nil
}

// DefaultSettings returns conventional names for every integration type.
// Used for local runs without a settings file.
func DefaultSettings() *Settings {
	settings := &Settings{
		MaxRetries:           intPtr(DefaultMaxRetries),
		EventTopicName:       "events",
		IntegrationTopicName: "integrations",
		Integrations:         make(map[string]IntegrationSettings),
	}

	for _, t := range integration.Types() {
		name := t.String()
		settings.Integrations[name] = IntegrationSettings{
			EventQueueName:                name + "-events",
			IntegrationQueueName:          name + "-integrations",
			IntegrationRetryQueueName:     name + "-integrations-retry",
			EventSubscriptionName:         name + "-events",
			IntegrationSubscriptionName:   name + "-integrations",
			EventPrefetchCount:            intPtr(DefaultPrefetchCount),
			EventMaxConcurrentCalls:       intPtr(DefaultMaxConcurrentCalls),
			IntegrationPrefetchCount:      intPtr(DefaultPrefetchCount),
			IntegrationMaxConcurrentCalls: intPtr(DefaultMaxConcurrentCalls),
		}
	}

	return settings
}

// ListenerConfiguration is the read-only configuration of the listeners that
// serve one integration type.
type ListenerConfiguration struct {
	Type integration.Type

	MaxRetries           int
	EventTopicName       string
	IntegrationTopicName string

	EventQueueName              string
	IntegrationQueueName        string
	IntegrationRetryQueueName   string
	EventSubscriptionName       string
	IntegrationSubscriptionName string

	EventPrefetchCount            int
	EventMaxConcurrentCalls       int
	IntegrationPrefetchCount      int
	IntegrationMaxConcurrentCalls int
}

// RoutingKey routes published integration messages to this type's queues.
func (c ListenerConfiguration) RoutingKey() string {
	return c.Type.RoutingKey()
}

// NewListenerConfiguration builds the configuration for one integration type.
// It fails if any required name or max_retries is missing, listing every
// missing field, and rejects negative retries and non-positive limits.
func NewListenerConfiguration(settings *Settings, t integration.Type) (ListenerConfiguration, error) {
	if settings == nil {
		return ListenerConfiguration{}, fmt.Errorf("%w: settings are nil", ErrMissingSettings)
	}
	if !t.Valid() {
		return ListenerConfiguration{}, fmt.Errorf("%w: %d", integration.ErrUnknownType, int(t))
	}

	var missing []string
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}

	if settings.MaxRetries == nil {
		missing = append(missing, "max_retries")
	}
	require("event_topic_name", settings.EventTopicName)
	require("integration_topic_name", settings.IntegrationTopicName)

	s, ok := settings.Integrations[t.String()]
	if !ok {
		missing = append(missing, "integrations."+t.String())
	} else {
		prefix := "integrations." + t.String() + "."
		require(prefix+"event_queue_name", s.EventQueueName)
		require(prefix+"integration_queue_name", s.IntegrationQueueName)
		require(prefix+"integration_retry_queue_name", s.IntegrationRetryQueueName)
		require(prefix+"event_subscription_name", s.EventSubscriptionName)
		require(prefix+"integration_subscription_name", s.IntegrationSubscriptionName)
	}

	if len(missing) > 0 {
		return ListenerConfiguration{}, fmt.Errorf("%w for %s: %s", ErrMissingSettings, t, strings.Join(missing, ", "))
	}
	if *settings.MaxRetries < 0 {
		return ListenerConfiguration{}, fmt.Errorf("max_retries must be non-negative, got %d", *settings.MaxRetries)
	}

	prefix := "integrations." + t.String() + "."
	var errs []error
	limit := func(field string, v *int, fallback int) int {
		if v == nil {
			return fallback
		}
		if *v <= 0 {
			errs = append(errs, fmt.Errorf("%s%s must be positive, got %d", prefix, field, *v))
		}
		return *v
	}

	cfg := ListenerConfiguration{
		Type:                          t,
		MaxRetries:                    *settings.MaxRetries,
		EventTopicName:                settings.EventTopicName,
		IntegrationTopicName:          settings.IntegrationTopicName,
		EventQueueName:                s.EventQueueName,
		IntegrationQueueName:          s.IntegrationQueueName,
		IntegrationRetryQueueName:     s.IntegrationRetryQueueName,
		EventSubscriptionName:         s.EventSubscriptionName,
		IntegrationSubscriptionName:   s.IntegrationSubscriptionName,
		EventPrefetchCount:            limit("event_prefetch_count", s.EventPrefetchCount, DefaultPrefetchCount),
		EventMaxConcurrentCalls:       limit("event_max_concurrent_calls", s.EventMaxConcurrentCalls, DefaultMaxConcurrentCalls),
		IntegrationPrefetchCount:      limit("integration_prefetch_count", s.IntegrationPrefetchCount, DefaultPrefetchCount),
		IntegrationMaxConcurrentCalls: limit("integration_max_concurrent_calls", s.IntegrationMaxConcurrentCalls, DefaultMaxConcurrentCalls),
	}
	if err := errors.Join(errs...); err != nil {
		return ListenerConfiguration{}, err
	}
	return cfg, nil
}

// NewListenerConfigurations builds a configuration for every integration type
// present in settings. Unknown type names are an error.
func NewListenerConfigurations(settings *Settings) ([]ListenerConfiguration, error) {
	if settings == nil || len(settings.Integrations) == 0 {
		return nil, fmt.Errorf("%w: no integrations configured", ErrMissingSettings)
	}

	names := make([]string, 0, len(settings.Integrations))
	for name := range settings.Integrations {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]ListenerConfiguration, 0, len(names))
	var errs []error
	for _, name := range names {
		t, err := integration.ParseType(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if t.String() != name {
			errs = append(errs, fmt.Errorf("integration %q: use the canonical name %q", name, t.String()))
			continue
		}
		cfg, err := NewListenerConfiguration(settings, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		configs = append(configs, cfg)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return configs, nil
}

func intPtr(v int) *int { return &v }
