package crmclient

import (
	"context"
	"sync"
)

// ConcurrencyLimiter caps simultaneous in-flight requests against a limit
// that the Scheduler's autothrottle routine adjusts at runtime. It is a
// condition-variable-style gate rather than a fixed-weight
// semaphore: golang.org/x/sync/semaphore's weighted semaphore fixes its
// capacity at construction, but this limiter's whole point is that the
// capacity changes on every gate pass.
type ConcurrencyLimiter struct {
	mu       sync.Mutex
	inFlight int
	limit    float64
	release  chan struct{}
}

// NewConcurrencyLimiter constructs a limiter starting at the given limit.
func NewConcurrencyLimiter(limit float64) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		limit:   limit,
		release: make(chan struct{}),
	}
}

// Acquire blocks while admitting one more request would push inFlight past
// the current limit, then admits it. It must be paired with a call to
// Release.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	for {
		c.mu.Lock()
		if float64(c.inFlight) < c.limit {
			c.inFlight++
			c.mu.Unlock()
			return nil
		}
		wait := c.release
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release admits the next waiter, if any.
func (c *ConcurrencyLimiter) Release() {
	c.mu.Lock()
	c.inFlight--
	old := c.release
	c.release = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// SetLimit is the autothrottle hook: it adjusts the current concurrency
// ceiling. Waiters blocked in Acquire are woken so they can re-check
// against the new limit.
func (c *ConcurrencyLimiter) SetLimit(limit float64) {
	c.mu.Lock()
	c.limit = limit
	old := c.release
	c.release = make(chan struct{})
	c.mu.Unlock()
	close(old)
}

// Limit returns the current concurrency ceiling.
func (c *ConcurrencyLimiter) Limit() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// InFlight returns the current number of admitted, unreleased requests.
func (c *ConcurrencyLimiter) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}
