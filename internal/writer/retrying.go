package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
	"github.com/rickgao/ohlcv-ingest/internal/retry"
)

// Retrying retries transient write failures. Each attempt runs under its own timeout;
// an attempt that times out is rolled back by the underlying writer and retried.
type Retrying struct {
	next    Writer
	timeout time.Duration
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewRetrying wraps next. A zero timeout leaves attempts unbounded.
func NewRetrying(next Writer, policy retry.Policy, timeout time.Duration, logger *slog.Logger, notify func(retry.Event)) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Retrying{
		next:    next,
		timeout: timeout,
		logger:  logger.With("component", "writer"),
	}
	w.retrier = retry.New(
		[]retry.Rule{{Kind: model.ErrTransientWrite, Policy: policy}},
		retry.WithNotify(func(e retry.Event) {
			w.logger.Warn("retrying write", "op", e.Op, "attempt", e.Attempt, "backoff", e.Delay, "error", e.Err)
			if notify != nil {
				notify(e)
			}
		}),
	)
	return w
}

// WriteBatch implements Writer.
func (w *Retrying) WriteBatch(ctx context.Context, pair model.TradingPair, candles []model.Candlestick) (Result, error) {
	var result Result
	err := w.retrier.Do(ctx, "write "+pair.Key().String(), func(ctx context.Context) error {
		attemptCtx := ctx
		if w.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, w.timeout)
			defer cancel()
		}

		r, err := w.next.WriteBatch(attemptCtx, pair, candles)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, model.ErrTransientWrite) {
				return fmt.Errorf("%w: %w", model.ErrTransientWrite, err)
			}
			return err
		}
		result = r
		return nil
	})
	return result, err
}
