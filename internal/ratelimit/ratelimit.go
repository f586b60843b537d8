// Package ratelimit shares one request budget between all workers talking to the
// same upstream API.
//
// Every request waits on a token bucket. When the upstream answers with a
// rate-limit response, Pause stops all workers until the requested delay has passed,
// so concurrent pairs back off together instead of hammering the API one by one.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Coordinator gates outbound requests.
type Coordinator struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
	now         func() time.Time
}

// New creates a Coordinator allowing requestsPerSecond with the given burst.
// A non-positive rate disables the token bucket.
func New(requestsPerSecond float64, burst int) *Coordinator {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Coordinator{
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// Wait blocks until any global pause has ended and a request token is available.
func (c *Coordinator) Wait(ctx context.Context) error {
	for {
		d := c.PausedFor()
		if d <= 0 {
			break
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return c.limiter.Wait(ctx)
}

// Pause blocks all callers of Wait for d. Overlapping pauses extend to the latest end.
func (c *Coordinator) Pause(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	until := c.now().Add(d)
	if until.After(c.pausedUntil) {
		c.pausedUntil = until
	}
}

// PausedFor returns the remaining global pause, or zero.
func (c *Coordinator) PausedFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pausedUntil.Sub(c.now())
}
