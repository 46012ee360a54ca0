package integration

import "time"

// HandlerResult is the outcome of one delivery attempt. A provider sender
// reports only through this value; the pipeline never inspects provider errors.
type HandlerResult struct {
	Success bool

	// Message is the attempted message. It is borrowed, not owned.
	Message *Message

	// Category is nil exactly when Success is true.
	Category *FailureCategory

	FailureReason string

	// DelayUntilDate is a provider hint, usually derived from Retry-After.
	DelayUntilDate *time.Time
}

// Succeed reports a delivered message.
func Succeed(message *Message) HandlerResult {
	return HandlerResult{Success: true, Message: message}
}

// Fail reports a failed attempt. delayUntil may be nil.
func Fail(message *Message, category FailureCategory, reason string, delayUntil *time.Time) HandlerResult {
	c := category
	return HandlerResult{
		Message:        message,
		Category:       &c,
		FailureReason:  reason,
		DelayUntilDate: delayUntil,
	}
}

// Retryable reports whether the failure may succeed on a later attempt.
// Successful results and results without a category are not retryable.
func (r HandlerResult) Retryable() bool {
	if r.Success || r.Category == nil {
		return false
	}
	return r.Category.Retryable()
}

// CategoryName returns the category name, or "" for successful results.
func (r HandlerResult) CategoryName() string {
	if r.Category == nil {
		return ""
	}
	return r.Category.String()
}
