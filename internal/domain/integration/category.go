package integration

import (
	"encoding/json"
	"fmt"
)

// FailureCategory groups heterogeneous third-party failures into the small set
// of policies the pipeline knows how to act on.
type FailureCategory int

const (
	ServiceUnavailable FailureCategory = iota
	AuthenticationFailed
	ConfigurationError
	RateLimited
	TransientError

	categoryCount
)

var categoryNames = [...]string{
	ServiceUnavailable:   "service_unavailable",
	AuthenticationFailed: "authentication_failed",
	ConfigurationError:   "configuration_error",
	RateLimited:          "rate_limited",
	TransientError:       "transient_error",
}

// retryableByCategory must list every category. Authentication and
// configuration failures need a human to fix credentials or settings.
var retryableByCategory = [...]bool{
	ServiceUnavailable:   true,
	AuthenticationFailed: false,
	ConfigurationError:   false,
	RateLimited:          true,
	TransientError:       true,
}

// Compile-time checks: adding a category without a name and a retryability
// entry breaks the build.
var (
	_ = [1]struct{}{}[len(retryableByCategory)-int(categoryCount)]
	_ = [1]struct{}{}[len(categoryNames)-int(categoryCount)]
)

// Categories returns all failure categories in declaration order.
func Categories() []FailureCategory {
	out := make([]FailureCategory, 0, categoryCount)
	for c := FailureCategory(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c is a declared category.
func (c FailureCategory) Valid() bool {
	return c >= 0 && c < categoryCount
}

// Retryable reports whether a failure of this category may succeed on a later
// attempt without human intervention.
func (c FailureCategory) Retryable() bool {
	if !c.Valid() {
		return false
	}
	return retryableByCategory[c]
}

// String returns the snake_case name used in logs, metrics and JSON.
func (c FailureCategory) String() string {
	if !c.Valid() {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// ParseFailureCategory converts a category name into a FailureCategory.
func ParseFailureCategory(name string) (FailureCategory, error) {
	for c := FailureCategory(0); c < categoryCount; c++ {
		if categoryNames[c] == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown failure category %q", name)
}

// MarshalJSON encodes the category as its name.
func (c FailureCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a category name.
func (c *FailureCategory) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("decode failure category: %w", err)
	}
	parsed, err := ParseFailureCategory(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
