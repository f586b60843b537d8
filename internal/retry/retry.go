// Package retry runs operations under bounded, jittered exponential backoff with a
// separate budget for each kind of recoverable failure.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// Policy is a bounded exponential backoff. MaxAttempts counts the first call.
type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent uint64
}

// Backoff builds a fresh backoff for one operation. Backoffs are stateful and
// must not be shared between operations.
func (p Policy) Backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Millisecond
	}
	b := goretry.NewExponential(base)
	if p.JitterPercent > 0 {
		b = goretry.WithJitterPercent(p.JitterPercent, b)
	}
	if p.MaxDelay > 0 {
		b = goretry.WithCappedDuration(p.MaxDelay, b)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Rule applies a policy to errors matching Kind (via errors.Is).
type Rule struct {
	Kind   error
	Policy Policy
}

// Event describes a scheduled retry.
type Event struct {
	Op      string
	Kind    error
	Attempt int // Attempts made so far for this kind
	Delay   time.Duration
	Err     error
}

// retryAfterer is implemented by errors that carry a server-requested delay.
type retryAfterer interface {
	RetryAfter() time.Duration
}

// Retrier retries operations whose errors match one of its rules.
type Retrier struct {
	rules  []Rule
	notify func(Event)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithNotify registers a callback invoked before each retry sleep.
func WithNotify(fn func(Event)) Option {
	return func(r *Retrier) {
		r.notify = fn
	}
}

// New creates a Retrier. Rules are matched in order.
func New(rules []Rule, opts ...Option) *Retrier {
	r := &Retrier{rules: rules}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do calls fn until it succeeds, returns an error no rule matches, or the matching
// rule's budget runs out. Exhaustion wraps model.ErrRetriesExhausted and the last error.
// Cancellation of ctx while waiting returns ctx.Err().
func (r *Retrier) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoffs := make([]goretry.Backoff, len(r.rules))
	attempts := make([]int, len(r.rules))

	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		idx := r.match(err)
		if idx < 0 {
			return err
		}

		if backoffs[idx] == nil {
			backoffs[idx] = r.rules[idx].Policy.Backoff()
		}
		attempts[idx]++

		delay, stop := backoffs[idx].Next()
		if stop {
			return fmt.Errorf("%s: %w after %d attempts: %w", op, model.ErrRetriesExhausted, attempts[idx], err)
		}

		var ra retryAfterer
		if errors.As(err, &ra) && ra.RetryAfter() > delay {
			delay = ra.RetryAfter()
		}

		if r.notify != nil {
			r.notify(Event{Op: op, Kind: r.rules[idx].Kind, Attempt: attempts[idx], Delay: delay, Err: err})
		}

		if err := Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (r *Retrier) match(err error) int {
	for i, rule := range r.rules {
		if errors.Is(err, rule.Kind) {
			return i
		}
	}
	return -1
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
