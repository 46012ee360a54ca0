package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"event-integrations/internal/domain/integration"
)

// NewDatadogSender creates a sender that posts the rendered event to a Datadog
// intake endpoint authenticated with the DD-API-KEY header.
func NewDatadogSender(cfg Config) Sender {
	return newHTTPSender(integration.Datadog, cfg, buildDatadogRequest, nil)
}

func buildDatadogRequest(ctx context.Context, m *integration.Message) (*http.Request, error) {
	c, ok := m.Configuration.(integration.DatadogConfiguration)
	if !ok {
		return nil, fmt.Errorf("%w: expected datadog configuration", integration.ErrConfigurationMismatch)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URI, strings.NewReader(m.RenderedTemplate))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("DD-API-KEY", c.APIKey)
	return req, nil
}
