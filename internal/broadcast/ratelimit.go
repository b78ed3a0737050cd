package broadcast

import (
	"golang.org/x/time/rate"
)

// subscriberRateLimiter wraps golang.org/x/time/rate.Limiter the way
// Fantasim-hdpay's internal/scanner/ratelimiter.go wraps it for outbound
// RPC pacing — applied here per spec.md §4.6 at broadcast enqueue: a
// message over the token bucket is dropped, never queued, and a counter
// is incremented rather than surfaced as an error.
type subscriberRateLimiter struct {
	limiter *rate.Limiter
	dropped uint64
}

// newSubscriberRateLimiter builds a limiter allowing ratePerSec sustained
// messages with a burst allowance of burst.
func newSubscriberRateLimiter(ratePerSec float64, burst int) *subscriberRateLimiter {
	return &subscriberRateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// allow reports whether a message may be enqueued now, incrementing the
// dropped counter when it may not.
func (r *subscriberRateLimiter) allow() bool {
	if r.limiter.Allow() {
		return true
	}
	r.dropped++
	return false
}

func (r *subscriberRateLimiter) droppedCount() uint64 {
	return r.dropped
}
