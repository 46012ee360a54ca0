package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"event-integrations/internal/domain/integration"
)

// teamsErrorCodes translates Bot Framework error codes into the shared
// provider codes understood by integration.Classify.
var teamsErrorCodes = map[string]string{
	"conversationnotfound":       "channel_not_found",
	"botnotinconversationroster": "not_in_channel",
	"unauthorized":               "invalid_auth",
	"forbidden":                  "invalid_auth",
	"badargument":                "invalid_arguments",
	"serviceerror":               "service_unavailable",
}

// NewTeamsSender creates a sender that posts an activity to a Teams channel
// through the Bot connector service.
func NewTeamsSender(cfg Config) Sender {
	return newHTTPSender(integration.Teams, cfg, buildTeamsRequest, inspectTeamsResponse)
}

func buildTeamsRequest(ctx context.Context, m *integration.Message) (*http.Request, error) {
	c, ok := m.Configuration.(integration.TeamsConfiguration)
	if !ok {
		return nil, fmt.Errorf("%w: expected teams configuration", integration.ErrConfigurationMismatch)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	activity, ok := asJSONObject(m.RenderedTemplate)
	if !ok {
		activity = map[string]any{"text": m.RenderedTemplate}
	}
	if _, set := activity["type"]; !set {
		activity["type"] = "message"
	}
	if c.TenantID != "" {
		activity["channelData"] = map[string]any{"tenant": map[string]any{"id": c.TenantID}}
	}

	jsonData, err := json.Marshal(activity)
	if err != nil {
		return nil, fmt.Errorf("marshal teams activity: %w", err)
	}

	endpoint := strings.TrimRight(c.ServiceURI, "/") + "/v3/conversations/" + url.PathEscape(c.ChannelID) + "/activities"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization("Bearer", c.Token))
	return req, nil
}

func inspectTeamsResponse(resp *http.Response, body []byte) string {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ""
	}
	var r struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return ""
	}
	return teamsErrorCodes[strings.ToLower(r.Error.Code)]
}
