package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"event-integrations/internal/domain/integration"
)

// DefaultHecScheme is the Authorization scheme Splunk HEC expects.
const DefaultHecScheme = "Splunk"

// hecErrorCodes translates HTTP Event Collector status codes into the shared
// provider codes understood by integration.Classify.
var hecErrorCodes = map[int]string{
	2:  "invalid_token", // token is required
	3:  "invalid_token", // invalid authorization
	4:  "invalid_token",
	1:  "token_revoked", // token disabled
	6:  "invalid_arguments",
	7:  "invalid_arguments", // incorrect index
	9:  "service_unavailable",
	10: "invalid_arguments", // data channel is missing
}

// NewHecSender creates a sender for Splunk HTTP Event Collector endpoints.
func NewHecSender(cfg Config) Sender {
	return newHTTPSender(integration.Hec, cfg, buildHecRequest, inspectHecResponse)
}

func buildHecRequest(ctx context.Context, m *integration.Message) (*http.Request, error) {
	c, ok := m.Configuration.(integration.HecConfiguration)
	if !ok {
		return nil, fmt.Errorf("%w: expected hec configuration", integration.ErrConfigurationMismatch)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URI, strings.NewReader(m.RenderedTemplate))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	scheme := c.Scheme
	if scheme == "" {
		scheme = DefaultHecScheme
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization(scheme, c.Token))
	return req, nil
}

func inspectHecResponse(resp *http.Response, body []byte) string {
	var r struct {
		Code *int `json:"code"`
	}
	if err := json.Unmarshal(body, &r); err != nil || r.Code == nil || *r.Code == 0 {
		return ""
	}
	return hecErrorCodes[*r.Code]
}
