package notifier

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// maxResponseBody bounds how much of a provider response is read.
	maxResponseBody = 64 << 10

	// maxReasonBody bounds how much of a response body ends up in a failure reason.
	maxReasonBody = 512

	reasonTruncationSuffix = "..."
)

// parseRetryAfter extracts a provider's retry hint. It understands the
// Retry-After header in delta-seconds and HTTP-date form, and a JSON body
// with a numeric "retry_after" field. It returns nil when there is no hint.
func parseRetryAfter(header http.Header, body []byte, now time.Time) *time.Time {
	if raw := strings.TrimSpace(header.Get("Retry-After")); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
			t := now.Add(time.Duration(seconds) * time.Second)
			return &t
		}
		if t, err := http.ParseTime(raw); err == nil {
			if t.Before(now) {
				t = now
			}
			return &t
		}
	}

	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.RetryAfter > 0 {
		t := now.Add(time.Duration(payload.RetryAfter * float64(time.Second)))
		return &t
	}

	return nil
}

// truncate shortens text to at most maxLength characters, suffix included,
// cutting on a rune boundary so multi-byte text stays valid UTF-8.
func truncate(text string, maxLength int, suffix string) string {
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}

	keep := max(maxLength-utf8.RuneCountInString(suffix), 0)
	cut := len(text)
	for i := range text {
		if keep == 0 {
			cut = i
			break
		}
		keep--
	}

	return text[:cut] + suffix
}

// asJSONObject decodes s when it holds a JSON object.
func asJSONObject(s string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func authorization(scheme, token string) string {
	return scheme + " " + token
}
