package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"event-integrations/internal/domain/integration"

	"github.com/google/uuid"
)

// StaticConfigurationStore serves a fixed set of integration configurations.
// It backs local runs; production stores live outside this service.
type StaticConfigurationStore struct {
	mu      sync.RWMutex
	details []integration.Details
}

// NewStaticConfigurationStore creates a store holding details.
func NewStaticConfigurationStore(details ...integration.Details) *StaticConfigurationStore {
	return &StaticConfigurationStore{details: details}
}

// staticRecord is the file form of one integration.Details.
type staticRecord struct {
	IntegrationID  uuid.UUID                `json:"integration_id"`
	OrganizationID string                   `json:"organization_id"`
	Type           integration.Type         `json:"type"`
	EventType      string                   `json:"event_type,omitempty"`
	Template       string                   `json:"template"`
	Configuration  json.RawMessage          `json:"configuration"`
	Filters        *integration.FilterGroup `json:"filters,omitempty"`
}

// LoadStaticConfigurationStore reads a JSON array of integration records.
func LoadStaticConfigurationStore(path string) (*StaticConfigurationStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read integrations file: %w", err)
	}

	var records []staticRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse integrations file %s: %w", path, err)
	}

	details := make([]integration.Details, 0, len(records))
	for i, r := range records {
		cfg, err := integration.DecodeConfiguration(r.Type, r.Configuration)
		if err != nil {
			return nil, fmt.Errorf("integration %d (%s): %w", i, r.IntegrationID, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("integration %d (%s): %w", i, r.IntegrationID, err)
		}
		id := r.IntegrationID
		if id == uuid.Nil {
			id = uuid.New()
		}
		details = append(details, integration.Details{
			IntegrationID:  id,
			OrganizationID: r.OrganizationID,
			Type:           r.Type,
			EventType:      r.EventType,
			Template:       r.Template,
			Configuration:  cfg,
			Filters:        r.Filters,
		})
	}
	return NewStaticConfigurationStore(details...), nil
}

// Add registers another configuration.
func (s *StaticConfigurationStore) Add(d integration.Details) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details = append(s.details, d)
}

// Details implements ConfigurationStore.
func (s *StaticConfigurationStore) Details(_ context.Context, organizationID string, t integration.Type, eventType string) ([]integration.Details, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []integration.Details
	for _, d := range s.details {
		if d.OrganizationID != organizationID || d.Type != t {
			continue
		}
		if d.EventType != "" && d.EventType != eventType {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
