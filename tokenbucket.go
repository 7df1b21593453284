package crmclient

import (
	"context"

	"golang.org/x/time/rate"
)

// TokenBucket caps the instantaneous request admission rate: a burst of
// poolSize requests is admitted for free, after which admission is spaced
// out to requestsPerSecond. This mirrors the server's advertised admission
// policy: burst up to pool_size, then steady rps.
//
// The policy is realized with golang.org/x/time/rate rather than a
// hand-rolled newest-first timestamp deque: rate.Limiter already
// implements "allow a burst, then meter at a fixed rate" exactly, and
// Wait(ctx) blocks for precisely the duration such a deque-trim loop
// would compute by hand.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket constructs a TokenBucket with the given burst capacity
// (poolSize) and steady-state admission rate (requestsPerSecond).
func NewTokenBucket(poolSize int, requestsPerSecond float64) *TokenBucket {
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), poolSize),
	}
}

// Acquire blocks until admission is safe, respecting ctx's deadline, then
// records the admission.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// TokensAvailable reports the current number of admission tokens, useful
// for tests asserting the pool-burst envelope.
func (b *TokenBucket) TokensAvailable() float64 {
	return b.limiter.Tokens()
}

// Burst returns the configured pool size.
func (b *TokenBucket) Burst() int {
	return b.limiter.Burst()
}
