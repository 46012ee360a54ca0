package notifier

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned by RateLimiter.Wait when the next token is further
// away than the limiter is willing to block for.
var ErrThrottled = errors.New("local rate limit exceeded")

// defaultMaxWait bounds how long a delivery blocks on the local limiter before
// the message is handed back to the broker instead.
const defaultMaxWait = 5 * time.Second

// RateLimiter is a token bucket in front of one provider.
type RateLimiter struct {
	limiter *rate.Limiter
	maxWait time.Duration
}

// NewRateLimiter allows requestsPerSecond with the given burst. A
// non-positive rate disables limiting.
//
// Example:
//
//	limiter := NewRateLimiter(2.0, 5)  // 2 req/s with burst of 5
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(limit, max(burst, 1)),
		maxWait: defaultMaxWait,
	}
}

// Wait blocks until a token is available. When that is more than maxWait
// away it returns ErrThrottled and the delay, without consuming a token.
func (r *RateLimiter) Wait(ctx context.Context) (time.Duration, error) {
	res := r.limiter.Reserve()
	delay := res.Delay()
	if delay == 0 {
		return 0, nil
	}
	if delay > r.maxWait {
		res.Cancel()
		return delay, ErrThrottled
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return 0, nil
	case <-ctx.Done():
		res.Cancel()
		return 0, ctx.Err()
	}
}

// Limit returns the sustained rate.
func (r *RateLimiter) Limit() rate.Limit { return r.limiter.Limit() }

// Burst returns the bucket size.
func (r *RateLimiter) Burst() int { return r.limiter.Burst() }
