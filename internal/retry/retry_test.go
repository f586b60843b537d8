package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

var fast = Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	r := New([]Rule{{Kind: model.ErrTransientFetch, Policy: fast}})

	calls := 0
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("boom: %w", model.ErrTransientFetch)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	r := New([]Rule{{Kind: model.ErrTransientFetch, Policy: fast}})

	calls := 0
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("boom: %w", model.ErrTransientFetch)
	})
	if !errors.Is(err, model.ErrRetriesExhausted) {
		t.Fatalf("Do() error = %v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, model.ErrTransientFetch) {
		t.Errorf("Do() error = %v, want wrapped ErrTransientFetch", err)
	}
	if calls != fast.MaxAttempts {
		t.Errorf("calls = %d, want %d", calls, fast.MaxAttempts)
	}
}

func TestDoDoesNotRetryUnmatchedErrors(t *testing.T) {
	r := New([]Rule{{Kind: model.ErrTransientFetch, Policy: fast}})

	calls := 0
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("bad symbol: %w", model.ErrPermanentFetch)
	})
	if !errors.Is(err, model.ErrPermanentFetch) {
		t.Fatalf("Do() error = %v, want ErrPermanentFetch", err)
	}
	if errors.Is(err, model.ErrRetriesExhausted) {
		t.Errorf("permanent error should not be reported as exhausted")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoSeparateBudgetsPerKind(t *testing.T) {
	r := New([]Rule{
		{Kind: model.ErrRateLimited, Policy: Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}},
		{Kind: model.ErrTransientFetch, Policy: Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}},
	})

	// Alternating failures: the transient budget (2 attempts) alone would stop at call 3.
	seq := []error{model.ErrRateLimited, model.ErrTransientFetch, model.ErrRateLimited, model.ErrRateLimited, nil}
	calls := 0
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		e := seq[calls]
		calls++
		return e
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != len(seq) {
		t.Errorf("calls = %d, want %d", calls, len(seq))
	}
}

type slowDown struct{ after time.Duration }

func (e slowDown) Error() string              { return "slow down" }
func (e slowDown) Unwrap() error              { return model.ErrRateLimited }
func (e slowDown) RetryAfter() time.Duration { return e.after }

func TestDoHonorsRetryAfter(t *testing.T) {
	var events []Event
	r := New(
		[]Rule{{Kind: model.ErrRateLimited, Policy: fast}},
		WithNotify(func(e Event) { events = append(events, e) }),
	)

	calls := 0
	err := r.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return slowDown{after: 20 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Delay != 20*time.Millisecond {
		t.Errorf("Delay = %v, want 20ms", events[0].Delay)
	}
	if events[0].Kind != model.ErrRateLimited {
		t.Errorf("Kind = %v, want ErrRateLimited", events[0].Kind)
	}
}

func TestDoStopsOnCancel(t *testing.T) {
	r := New([]Rule{{Kind: model.ErrTransientFetch, Policy: Policy{MaxAttempts: 10, BaseDelay: time.Hour}}})

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "fetch", func(ctx context.Context) error {
			calls++
			return model.ErrTransientFetch
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Do() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do() did not return after cancel")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicyBackoffCapped(t *testing.T) {
	b := Policy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 3 * time.Second}.Backoff()

	var last time.Duration
	for i := 0; i < 9; i++ {
		d, stop := b.Next()
		if stop {
			t.Fatalf("stopped early at retry %d", i)
		}
		if d > 3*time.Second {
			t.Errorf("retry %d delay = %v, exceeds cap", i, d)
		}
		last = d
	}
	if last != 3*time.Second {
		t.Errorf("final delay = %v, want 3s", last)
	}
	if _, stop := b.Next(); !stop {
		t.Error("expected stop after MaxAttempts-1 retries")
	}
}
