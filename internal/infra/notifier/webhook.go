package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"event-integrations/internal/domain/integration"
)

// NewWebhookSender creates a sender that POSTs the rendered template to an
// arbitrary endpoint, with an optional "<scheme> <token>" Authorization header.
func NewWebhookSender(cfg Config) Sender {
	return newHTTPSender(integration.Webhook, cfg, buildWebhookRequest, nil)
}

func buildWebhookRequest(ctx context.Context, m *integration.Message) (*http.Request, error) {
	c, ok := m.Configuration.(integration.WebhookConfiguration)
	if !ok {
		return nil, fmt.Errorf("%w: expected webhook configuration", integration.ErrConfigurationMismatch)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URI, strings.NewReader(m.RenderedTemplate))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Scheme != "" {
		req.Header.Set("Authorization", authorization(c.Scheme, c.Token))
	}
	return req, nil
}
