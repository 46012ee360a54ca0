package integration

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// Outcome is what a provider sender observed on a failed delivery attempt.
// Any combination of fields may be set; zero values mean "not observed".
type Outcome struct {
	// StatusCode is the HTTP status returned by the provider.
	StatusCode int

	// ProviderError is a provider-specific error code such as Slack's
	// "channel_not_found".
	ProviderError string

	// Err is a transport-level error raised before a response was read.
	Err error
}

var providerCodes = map[string]FailureCategory{
	"service_unavailable": ServiceUnavailable,
	"service_down":        ServiceUnavailable,
	"fatal_error":         ServiceUnavailable,
	"internal_error":      ServiceUnavailable,

	"invalid_auth":     AuthenticationFailed,
	"not_authed":       AuthenticationFailed,
	"token_revoked":    AuthenticationFailed,
	"token_expired":    AuthenticationFailed,
	"account_inactive": AuthenticationFailed,
	"missing_scope":    AuthenticationFailed,
	"invalid_token":    AuthenticationFailed,

	"channel_not_found":   ConfigurationError,
	"is_archived":         ConfigurationError,
	"not_in_channel":      ConfigurationError,
	"invalid_arguments":   ConfigurationError,
	"invalid_webhook_url": ConfigurationError,
	"no_service":          ConfigurationError,

	"rate_limited": RateLimited,
	"ratelimited":  RateLimited,
}

// Classify maps a raw delivery outcome to exactly one failure category.
//
// Transport errors are inspected first, then the provider error code, then the
// HTTP status. Anything unrecognised is TransientError so that an unknown
// failure is retried rather than silently dropped.
func Classify(o Outcome) FailureCategory {
	if o.Err != nil {
		if category, ok := classifyError(o.Err); ok {
			return category
		}
	}

	if code := strings.ToLower(strings.TrimSpace(o.ProviderError)); code != "" {
		if category, ok := providerCodes[code]; ok {
			return category
		}
	}

	if o.StatusCode != 0 {
		return classifyStatus(o.StatusCode)
	}

	return TransientError
}

func classifyError(err error) (FailureCategory, bool) {
	if errors.Is(err, ErrMalformedURL) ||
		errors.Is(err, ErrConfigurationMismatch) ||
		errors.Is(err, ErrValidationFailed) {
		return ConfigurationError, true
	}

	// A cancelled attempt is retried, never dropped.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return TransientError, true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Op == "parse" || strings.Contains(urlErr.Err.Error(), "unsupported protocol scheme") {
			return ConfigurationError, true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransientError, true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return TransientError, true
	}

	return 0, false
}

func classifyStatus(status int) FailureCategory {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return AuthenticationFailed
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusServiceUnavailable:
		return ServiceUnavailable
	case http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusMethodNotAllowed,
		http.StatusGone,
		http.StatusRequestEntityTooLarge,
		http.StatusUnprocessableEntity:
		return ConfigurationError
	default:
		return TransientError
	}
}
