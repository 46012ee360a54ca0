package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"event-integrations/internal/domain/integration"
	"event-integrations/internal/resilience/circuitbreaker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		Timeout: 2 * time.Second,
		Now:     func() time.Time { return testNow },
	}
}

func webhookMessage(uri string) *integration.Message {
	return integration.NewMessage("org-1", `{"event":"created"}`, integration.WebhookConfiguration{
		URI:    uri,
		Scheme: "Bearer",
		Token:  "secret",
	})
}

func categoryOf(t *testing.T, r integration.HandlerResult) integration.FailureCategory {
	t.Helper()
	require.False(t, r.Success)
	require.NotNil(t, r.Category)
	return *r.Category
}

func TestWebhookSender_Success(t *testing.T) {
	var gotAuth, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewWebhookSender(testConfig())
	m := webhookMessage(server.URL)
	result := s.Send(context.Background(), m)

	assert.True(t, result.Success)
	assert.Nil(t, result.Category)
	assert.Same(t, m, result.Message)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.JSONEq(t, `{"event":"created"}`, gotBody)
}

func TestWebhookSender_NoSchemeSendsNoAuthorization(t *testing.T) {
	var hadAuth bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
	}))
	defer server.Close()

	m := integration.NewMessage("org-1", "{}", integration.WebhookConfiguration{URI: server.URL})
	result := NewWebhookSender(testConfig()).Send(context.Background(), m)

	assert.True(t, result.Success)
	assert.False(t, hadAuth)
}

func TestHTTPSender_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   integration.FailureCategory
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: integration.AuthenticationFailed},
		{name: "forbidden", status: http.StatusForbidden, want: integration.AuthenticationFailed},
		{name: "not found", status: http.StatusNotFound, want: integration.ConfigurationError},
		{name: "too many requests", status: http.StatusTooManyRequests, want: integration.RateLimited},
		{name: "service unavailable", status: http.StatusServiceUnavailable, want: integration.ServiceUnavailable},
		{name: "internal error", status: http.StatusInternalServerError, body: "boom", want: integration.TransientError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			result := NewWebhookSender(testConfig()).Send(context.Background(), webhookMessage(server.URL))

			assert.Equal(t, tt.want, categoryOf(t, result))
			assert.Contains(t, result.FailureReason, "webhook responded")
			assert.Equal(t, tt.want.Retryable(), result.Retryable())
		})
	}
}

func TestHTTPSender_RetryAfterHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	result := NewWebhookSender(testConfig()).Send(context.Background(), webhookMessage(server.URL))

	assert.Equal(t, integration.RateLimited, categoryOf(t, result))
	require.NotNil(t, result.DelayUntilDate)
	assert.Equal(t, testNow.Add(30*time.Second), *result.DelayUntilDate)
}

func TestHTTPSender_ConnectionRefusedIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	result := NewWebhookSender(testConfig()).Send(context.Background(), webhookMessage(url))

	assert.Equal(t, integration.TransientError, categoryOf(t, result))
}

func TestHTTPSender_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		m    *integration.Message
	}{
		{
			name: "malformed uri",
			m:    integration.NewMessage("org-1", "{}", integration.WebhookConfiguration{URI: "not a url"}),
		},
		{
			name: "configuration of another type",
			m: &integration.Message{
				Type:          integration.Webhook,
				MessageID:     "m-1",
				Configuration: integration.SlackConfiguration{Token: "t", ChannelID: "C1"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewWebhookSender(testConfig()).Send(context.Background(), tt.m)
			assert.Equal(t, integration.ConfigurationError, categoryOf(t, result))
			assert.False(t, result.Retryable())
		})
	}
}

func TestHTTPSender_WrongMessageType(t *testing.T) {
	m := integration.NewMessage("org-1", "hi", integration.SlackConfiguration{Token: "t", ChannelID: "C1"})

	result := NewWebhookSender(testConfig()).Send(context.Background(), m)

	assert.Equal(t, integration.ConfigurationError, categoryOf(t, result))
}

func TestHTTPSender_BreakerOpensOnProviderFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Breaker = &circuitbreaker.Config{
		Name:             "test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      1,
	}
	s := NewWebhookSender(cfg)

	first := s.Send(context.Background(), webhookMessage(server.URL))
	assert.Equal(t, integration.ServiceUnavailable, categoryOf(t, first))

	second := s.Send(context.Background(), webhookMessage(server.URL))
	assert.Equal(t, integration.ServiceUnavailable, categoryOf(t, second))
	assert.Contains(t, second.FailureReason, "circuit breaker open")
	require.NotNil(t, second.DelayUntilDate)
	assert.Equal(t, testNow.Add(time.Minute), *second.DelayUntilDate)

	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPSender_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Breaker = &circuitbreaker.Config{
		Name:             "test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      1,
	}
	s := NewWebhookSender(cfg)

	for i := 0; i < 3; i++ {
		result := s.Send(context.Background(), webhookMessage(server.URL))
		assert.Equal(t, integration.AuthenticationFailed, categoryOf(t, result))
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPSender_RecordsSpan(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	cfg := testConfig()
	cfg.Tracer = provider.Tracer("test")
	m := webhookMessage(server.URL)

	NewWebhookSender(cfg).Send(context.Background(), m)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "integration.send", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range span.Attributes() {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "webhook", attrs["integration.type"].AsString())
	assert.Equal(t, m.MessageID, attrs["integration.message_id"].AsString())
	assert.Equal(t, "authentication_failed", attrs["integration.failure_category"].AsString())
	assert.False(t, attrs["integration.retryable"].AsBool())
}

func TestSlackSender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		response string
		wantOK   bool
		want     integration.FailureCategory
		check    func(t *testing.T, payload map[string]any)
	}{
		{
			name:     "plain text",
			template: "Deploy finished",
			response: `{"ok":true}`,
			wantOK:   true,
			check: func(t *testing.T, payload map[string]any) {
				assert.Equal(t, "C123", payload["channel"])
				assert.Equal(t, "Deploy finished", payload["text"])
			},
		},
		{
			name:     "block kit object",
			template: `{"blocks":[{"type":"section"}],"text":"fallback"}`,
			response: `{"ok":true}`,
			wantOK:   true,
			check: func(t *testing.T, payload map[string]any) {
				assert.Equal(t, "C123", payload["channel"])
				assert.Equal(t, "fallback", payload["text"])
				assert.Len(t, payload["blocks"], 1)
			},
		},
		{
			name:     "long multi-byte text is cut on a character boundary",
			template: strings.Repeat("é", maxSlackTextLength+10),
			response: `{"ok":true}`,
			wantOK:   true,
			check: func(t *testing.T, payload map[string]any) {
				text, _ := payload["text"].(string)
				assert.True(t, utf8.ValidString(text))
				assert.Equal(t, maxSlackTextLength, utf8.RuneCountInString(text))
				assert.True(t, strings.HasSuffix(text, reasonTruncationSuffix))
			},
		},
		{
			name:     "channel not found",
			template: "hello",
			response: `{"ok":false,"error":"channel_not_found"}`,
			want:     integration.ConfigurationError,
		},
		{
			name:     "revoked token",
			template: "hello",
			response: `{"ok":false,"error":"token_revoked"}`,
			want:     integration.AuthenticationFailed,
		},
		{
			name:     "unknown error",
			template: "hello",
			response: `{"ok":false}`,
			want:     integration.TransientError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload map[string]any
			var gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				_ = json.NewDecoder(r.Body).Decode(&payload)
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			cfg := testConfig()
			cfg.SlackAPIURL = server.URL
			m := integration.NewMessage("org-1", tt.template, integration.SlackConfiguration{Token: "xoxb-1", ChannelID: "C123"})

			result := NewSlackSender(cfg).Send(context.Background(), m)

			assert.Equal(t, "Bearer xoxb-1", gotAuth)
			if tt.wantOK {
				assert.True(t, result.Success)
				tt.check(t, payload)
				return
			}
			assert.Equal(t, tt.want, categoryOf(t, result))
		})
	}
}

func TestTeamsSender(t *testing.T) {
	var gotPath, gotAuth string
	var activity map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&activity)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	m := integration.NewMessage("org-1", "Build failed", integration.TeamsConfiguration{
		ServiceURI: server.URL + "/",
		TenantID:   "tenant-1",
		TeamID:     "team-1",
		ChannelID:  "19:abc@thread.skype",
		Token:      "bot-token",
	})

	result := NewTeamsSender(testConfig()).Send(context.Background(), m)

	require.True(t, result.Success, result.FailureReason)
	assert.Equal(t, "/v3/conversations/19:abc@thread.skype/activities", gotPath)
	assert.Equal(t, "Bearer bot-token", gotAuth)
	assert.Equal(t, "message", activity["type"])
	assert.Equal(t, "Build failed", activity["text"])
}

func TestTeamsSender_ConversationNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"ConversationNotFound","message":"gone"}}`))
	}))
	defer server.Close()

	m := integration.NewMessage("org-1", "hi", integration.TeamsConfiguration{
		ServiceURI: server.URL,
		TenantID:   "tenant-1",
		TeamID:     "team-1",
		ChannelID:  "c1",
		Token:      "bot-token",
	})

	result := NewTeamsSender(testConfig()).Send(context.Background(), m)

	assert.Equal(t, integration.ConfigurationError, categoryOf(t, result))
}

func TestDatadogSender(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("DD-API-KEY")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	m := integration.NewMessage("org-1", `{"title":"x"}`, integration.DatadogConfiguration{URI: server.URL, APIKey: "dd-key"})

	result := NewDatadogSender(testConfig()).Send(context.Background(), m)

	assert.True(t, result.Success)
	assert.Equal(t, "dd-key", gotKey)
}

func TestHecSender(t *testing.T) {
	tests := []struct {
		name       string
		scheme     string
		status     int
		response   string
		wantAuth   string
		wantResult integration.FailureCategory
	}{
		{name: "default scheme", status: http.StatusOK, response: `{"text":"Success","code":0}`, wantAuth: "Splunk tok"},
		{name: "custom scheme", scheme: "Bearer", status: http.StatusOK, response: `{"text":"Success","code":0}`, wantAuth: "Bearer tok"},
		{name: "invalid token", status: http.StatusForbidden, response: `{"text":"Invalid token","code":4}`, wantAuth: "Splunk tok", wantResult: integration.AuthenticationFailed},
		{name: "server busy", status: http.StatusServiceUnavailable, response: `{"text":"Server is busy","code":9}`, wantAuth: "Splunk tok", wantResult: integration.ServiceUnavailable},
		{name: "incorrect index", status: http.StatusBadRequest, response: `{"text":"Incorrect index","code":7}`, wantAuth: "Splunk tok", wantResult: integration.ConfigurationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.response))
			}))
			defer server.Close()

			m := integration.NewMessage("org-1", `{"event":"x"}`, integration.HecConfiguration{URI: server.URL, Scheme: tt.scheme, Token: "tok"})

			result := NewHecSender(testConfig()).Send(context.Background(), m)

			assert.Equal(t, tt.wantAuth, gotAuth)
			if tt.status == http.StatusOK {
				assert.True(t, result.Success)
				return
			}
			assert.Equal(t, tt.wantResult, categoryOf(t, result))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(testConfig())

	assert.Equal(t, integration.Types(), r.Types())
	for _, typ := range integration.Types() {
		s, ok := r.Get(typ)
		require.True(t, ok)
		assert.Equal(t, typ, s.Type())
	}

	_, err := NewRegistry(NewWebhookSender(testConfig()), NewWebhookSender(testConfig()))
	assert.Error(t, err)
}

func TestDryRunSender(t *testing.T) {
	r := NewDryRunRegistry(nil)
	s, ok := r.Get(integration.Slack)
	require.True(t, ok)

	m := integration.NewMessage("org-1", "hi", integration.SlackConfiguration{Token: "t", ChannelID: "C1"})
	result := s.Send(context.Background(), m)

	assert.True(t, result.Success)
}
