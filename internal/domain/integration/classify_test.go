package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify_StatusCodes(t *testing.T) {
	tests := []struct {
		status int
		want   FailureCategory
	}{
		{401, AuthenticationFailed},
		{403, AuthenticationFailed},
		{429, RateLimited},
		{503, ServiceUnavailable},
		{400, ConfigurationError},
		{404, ConfigurationError},
		{410, ConfigurationError},
		{422, ConfigurationError},
		{408, TransientError},
		{500, TransientError},
		{502, TransientError},
		{504, TransientError},
		{418, TransientError},
		{302, TransientError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(Outcome{StatusCode: tt.status}))
		})
	}
}

func TestClassify_ProviderErrors(t *testing.T) {
	tests := []struct {
		code string
		want FailureCategory
	}{
		{"invalid_auth", AuthenticationFailed},
		{"token_revoked", AuthenticationFailed},
		{"INVALID_AUTH", AuthenticationFailed},
		{"channel_not_found", ConfigurationError},
		{"is_archived", ConfigurationError},
		{"rate_limited", RateLimited},
		{"ratelimited", RateLimited},
		{"fatal_error", ServiceUnavailable},
		{"service_unavailable", ServiceUnavailable},
		{"something_new", TransientError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(Outcome{StatusCode: 200, ProviderError: tt.code}))
		})
	}
}

func TestClassify_ProviderErrorWinsOverStatus(t *testing.T) {
	got := Classify(Outcome{StatusCode: 500, ProviderError: "channel_not_found"})
	assert.Equal(t, ConfigurationError, got)
}

func TestClassify_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureCategory
	}{
		{"canceled", context.Canceled, TransientError},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), TransientError},
		{"malformed url", fmt.Errorf("%w: missing host", ErrMalformedURL), ConfigurationError},
		{"configuration mismatch", fmt.Errorf("send: %w", ErrConfigurationMismatch), ConfigurationError},
		{"validation error", &ValidationError{Field: "token", Message: "required"}, ConfigurationError},
		{"url parse", &url.Error{Op: "parse", URL: "::", Err: errors.New("missing protocol scheme")}, ConfigurationError},
		{"unsupported scheme", &url.Error{Op: "Post", URL: "ftp://x", Err: errors.New(`unsupported protocol scheme "ftp"`)}, ConfigurationError},
		{"net timeout", &url.Error{Op: "Post", URL: "https://x", Err: timeoutError{}}, TransientError},
		{"dns", &net.DNSError{Err: "no such host", Name: "hooks.example"}, TransientError},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), TransientError},
		{"unknown", errors.New("mystery"), TransientError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(Outcome{Err: tt.err}))
		})
	}
}

func TestClassify_ErrorWinsOverStatus(t *testing.T) {
	got := Classify(Outcome{StatusCode: 401, Err: context.Canceled})
	assert.Equal(t, TransientError, got)
}

func TestClassify_UnrecognisedErrorFallsBackToStatus(t *testing.T) {
	got := Classify(Outcome{StatusCode: 403, Err: errors.New("mystery")})
	assert.Equal(t, AuthenticationFailed, got)
}

func TestClassify_EmptyOutcomeIsTransient(t *testing.T) {
	assert.Equal(t, TransientError, Classify(Outcome{}))
}
