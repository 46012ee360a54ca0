package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"event-integrations/internal/domain/integration"
)

// SlackPostMessageURL is the Slack Web API endpoint used to post messages.
const SlackPostMessageURL = "https://slack.com/api/chat.postMessage"

// maxSlackTextLength is Slack's limit on the text field, in characters.
const maxSlackTextLength = 40000

// slackResponse is the envelope every Slack Web API method returns.
type slackResponse struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

// NewSlackSender creates a sender that posts to a channel with chat.postMessage.
//
// A rendered template holding a JSON object is sent as the message payload
// (for example with Block Kit "blocks"); anything else is sent as plain text.
// Slack reports most failures as HTTP 200 with {"ok":false,"error":"..."}.
func NewSlackSender(cfg Config) Sender {
	endpoint := cfg.SlackAPIURL
	if endpoint == "" {
		endpoint = SlackPostMessageURL
	}

	build := func(ctx context.Context, m *integration.Message) (*http.Request, error) {
		c, ok := m.Configuration.(integration.SlackConfiguration)
		if !ok {
			return nil, fmt.Errorf("%w: expected slack configuration", integration.ErrConfigurationMismatch)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}

		payload, ok := asJSONObject(m.RenderedTemplate)
		if !ok {
			payload = map[string]any{
				"text": truncate(m.RenderedTemplate, maxSlackTextLength, reasonTruncationSuffix),
			}
		}
		payload["channel"] = c.ChannelID

		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal slack payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("create http request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		req.Header.Set("Authorization", authorization("Bearer", c.Token))
		return req, nil
	}

	return newHTTPSender(integration.Slack, cfg, build, inspectSlackResponse)
}

func inspectSlackResponse(resp *http.Response, body []byte) string {
	var r slackResponse
	if err := json.Unmarshal(body, &r); err != nil || r.OK == nil {
		return ""
	}
	if *r.OK {
		return ""
	}
	if r.Error == "" {
		return "unknown_error"
	}
	return r.Error
}
