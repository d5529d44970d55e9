package orchestrator

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucket admits at most ratePerMin/60 tasks per second, refilling
// continuously, with a burst equal to concurrency so a freshly started
// run can saturate its worker pool immediately. Wraps
// golang.org/x/time/rate.Limiter.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a TokenBucket admitting ratePerMin tasks per
// minute with burst concurrency slots.
func NewTokenBucket(ratePerMin, concurrency int) *TokenBucket {
	if concurrency <= 0 {
		concurrency = 1
	}
	perSecond := float64(ratePerMin) / 60.0
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSecond), concurrency)}
}

// Take blocks until a token is available or ctx is cancelled.
func (b *TokenBucket) Take(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
