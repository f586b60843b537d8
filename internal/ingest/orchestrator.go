package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/ohlcv-ingest/internal/api"
	"github.com/rickgao/ohlcv-ingest/internal/checkpoint"
	"github.com/rickgao/ohlcv-ingest/internal/fetcher"
	"github.com/rickgao/ohlcv-ingest/internal/model"
	"github.com/rickgao/ohlcv-ingest/internal/writer"
)

// ErrExchangeUnavailable marks pairs skipped because the exchange reported maintenance.
var ErrExchangeUnavailable = errors.New("exchange unavailable")

// DefaultConcurrency is the number of pairs processed in parallel.
const DefaultConcurrency = 4

// PageFetcher returns pages of candles strictly after a close time.
type PageFetcher interface {
	FetchPage(ctx context.Context, pair model.TradingPair, fromExclusive int64) (fetcher.Page, error)
}

// StatusChecker reports whether the exchange is accepting requests.
type StatusChecker interface {
	GetSystemStatus(ctx context.Context) (*api.SystemStatusResponse, error)
}

// Recorder receives ingestion metrics.
type Recorder interface {
	ObservePage(key model.PairKey, written, duplicates, rejected int)
	ObserveCheckpoint(key model.PairKey, closeTimeMs int64)
	ObservePairResult(state string)
	ObserveRun(d time.Duration, finished time.Time)
}

// Orchestrator runs ingestion for a fixed set of pairs.
type Orchestrator struct {
	pairs       []model.TradingPair
	checkpoints checkpoint.Store
	fetcher     PageFetcher
	writer      writer.Writer
	status      StatusChecker
	recorder    Recorder
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu     sync.Mutex
	states map[model.PairKey]State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency bounds the number of pairs processed at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = n
	}
}

// WithStatusCheck enables the exchange status preflight before each run.
func WithStatusCheck(s StatusChecker) Option {
	return func(o *Orchestrator) {
		o.status = s
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock overrides the time source used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New validates the pair list and creates an Orchestrator. An invalid pair list
// returns an error wrapping model.ErrConfig before anything is fetched or written.
func New(pairs []model.TradingPair, checkpoints checkpoint.Store, f PageFetcher, w writer.Writer, opts ...Option) (*Orchestrator, error) {
	if err := validatePairs(pairs); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		pairs:       pairs,
		checkpoints: checkpoints,
		fetcher:     f,
		writer:      w,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
		states:      make(map[model.PairKey]State, len(pairs)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	o.logger = o.logger.With("component", "orchestrator")

	for _, p := range pairs {
		o.states[p.Key()] = StateIdle
	}
	return o, nil
}

func validatePairs(pairs []model.TradingPair) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: no trading pairs configured", model.ErrConfig)
	}
	seen := make(map[model.PairKey]bool, len(pairs))
	for i, p := range pairs {
		switch {
		case p.Source.Name == "":
			return fmt.Errorf("%w: pairs[%d]: source is required", model.ErrConfig, i)
		case p.Symbol == "":
			return fmt.Errorf("%w: pairs[%d]: symbol is required", model.ErrConfig, i)
		case p.StartDate.IsZero():
			return fmt.Errorf("%w: pairs[%d]: start date is required", model.ErrConfig, i)
		}
		if _, err := model.ParseInterval(p.Interval.String()); err != nil {
			return fmt.Errorf("%w: pairs[%d]: %w", model.ErrConfig, i, err)
		}
		if seen[p.Key()] {
			return fmt.Errorf("%w: pairs[%d]: duplicate pair %s", model.ErrConfig, i, p.Key())
		}
		seen[p.Key()] = true
	}
	return nil
}

// Pairs returns the configured pairs.
func (o *Orchestrator) Pairs() []model.TradingPair {
	return o.pairs
}

// States returns a snapshot of every pair's current state.
func (o *Orchestrator) States() map[model.PairKey]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[model.PairKey]State, len(o.states))
	for k, v := range o.states {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) setState(key model.PairKey, s State) {
	o.mu.Lock()
	o.states[key] = s
	o.mu.Unlock()
}

// Run ingests every pair until it is caught up, has failed or the context is cancelled.
// One pair's failure never stops the others. The returned summary lists every pair in
// configuration order.
func (o *Orchestrator) Run(ctx context.Context) *Summary {
	summary := &Summary{
		RunID:   uuid.NewString(),
		Started: o.now(),
		Pairs:   make([]PairResult, len(o.pairs)),
	}
	logger := o.logger.With("run_id", summary.RunID)
	logger.Info("ingest run started", "pairs", len(o.pairs), "concurrency", o.concurrency)

	for _, p := range o.pairs {
		o.setState(p.Key(), StateIdle)
	}

	if err := o.preflight(ctx, logger); err != nil {
		for i, p := range o.pairs {
			summary.Pairs[i] = PairResult{Pair: p, State: StateFailed, Err: err}
			o.setState(p.Key(), StateFailed)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(o.concurrency)
		for i, p := range o.pairs {
			i, p := i, p
			g.Go(func() error {
				summary.Pairs[i] = o.runPair(ctx, p, logger)
				return nil
			})
		}
		g.Wait()
	}

	summary.Finished = o.now()
	summary.Cancelled = ctx.Err() != nil

	for _, r := range summary.Pairs {
		if o.recorder != nil {
			o.recorder.ObservePairResult(string(r.State))
		}
	}
	if o.recorder != nil {
		o.recorder.ObserveRun(summary.Duration(), summary.Finished)
	}

	logger.Info("ingest run finished",
		"caught_up", summary.Count(StateCaughtUp),
		"failed", summary.Count(StateFailed),
		"cancelled", summary.Count(StateCancelled),
		"rows_written", summary.RowsWritten(),
		"duration", summary.Duration(),
	)
	return summary
}

// preflight fails the run when the exchange reports maintenance. A status endpoint
// that cannot be reached is ignored; klines requests will surface the real error.
func (o *Orchestrator) preflight(ctx context.Context, logger *slog.Logger) error {
	if o.status == nil {
		return nil
	}
	st, err := o.status.GetSystemStatus(ctx)
	if err != nil {
		logger.Warn("exchange status check failed, continuing", "error", err)
		return nil
	}
	if !st.Normal() {
		logger.Error("exchange in maintenance, skipping run", "status", st.Status, "msg", st.Msg)
		return fmt.Errorf("%w: %s", ErrExchangeUnavailable, st.Msg)
	}
	return nil
}

// runPair drives one pair through its state machine.
func (o *Orchestrator) runPair(ctx context.Context, pair model.TradingPair, runLogger *slog.Logger) (res PairResult) {
	key := pair.Key()
	logger := runLogger.With("source", key.Source, "symbol", key.Symbol, "interval", key.Interval.String())
	started := time.Now()
	res.Pair = pair

	defer func() {
		res.Duration = time.Since(started)
		o.setState(key, res.State)
		o.logPairResult(logger, res)
	}()

	finish := func(state State, err error) PairResult {
		res.State = state
		res.Err = err
		return res
	}

	if ctx.Err() != nil {
		return finish(StateCancelled, ctx.Err())
	}

	o.setState(key, StateResuming)
	from, resumed, err := checkpoint.ResumePoint(ctx, o.checkpoints, pair)
	if err != nil {
		if ctx.Err() != nil {
			return finish(StateCancelled, ctx.Err())
		}
		return finish(StateFailed, fmt.Errorf("read checkpoint: %w", err))
	}
	res.Resumed = resumed
	res.From = from
	if resumed {
		res.LastCloseTime = from
		if o.recorder != nil {
			o.recorder.ObserveCheckpoint(key, from)
		}
	}
	logger.Debug("resuming", "from", from, "resumed", resumed)

	for {
		// Stop before starting a new page; a finished write is never undone.
		if ctx.Err() != nil {
			return finish(StateCancelled, ctx.Err())
		}

		o.setState(key, StateFetching)
		page, err := o.fetcher.FetchPage(ctx, pair, from)
		if err != nil {
			if ctx.Err() != nil {
				return finish(StateCancelled, ctx.Err())
			}
			return finish(StateFailed, fmt.Errorf("fetch from %d: %w", from, err))
		}
		res.Duplicates += page.Overlap

		if len(page.Candles) == 0 {
			return finish(StateCaughtUp, nil)
		}
		res.Pages++

		o.setState(key, StateWriting)
		// The write runs to completion even if the run is cancelled meanwhile.
		wr, err := o.writer.WriteBatch(context.WithoutCancel(ctx), pair, page.Candles)
		if err != nil {
			return finish(StateFailed, fmt.Errorf("write page after %d: %w", from, err))
		}

		res.Inserted += wr.Inserted
		res.Updated += wr.Updated
		res.Duplicates += wr.Duplicates
		res.Rejected += wr.Rejected()
		if wr.Rejected() > 0 {
			logger.Warn("closed candles rejected", "count", wr.Rejected(), "error", model.ErrIntegrityViolation)
		}
		if o.recorder != nil {
			o.recorder.ObservePage(key, wr.Written(), wr.Duplicates+page.Overlap, wr.Rejected())
			if wr.MaxFinalCloseTime > 0 {
				o.recorder.ObserveCheckpoint(key, wr.MaxFinalCloseTime)
			}
		}

		last, _ := page.LastCloseTime()
		from = last
		res.LastCloseTime = last

		logger.Debug("page written",
			"rows", len(page.Candles),
			"inserted", wr.Inserted,
			"updated", wr.Updated,
			"duplicates", wr.Duplicates,
			"next_from", from,
			"has_more", page.HasMore,
		)

		if !page.HasMore {
			return finish(StateCaughtUp, nil)
		}
	}
}

func (o *Orchestrator) logPairResult(logger *slog.Logger, res PairResult) {
	attrs := []any{
		"state", res.State,
		"rows_written", res.RowsWritten(),
		"duplicates", res.Duplicates,
		"rejected", res.Rejected,
		"pages", res.Pages,
		"last_close_time", res.LastCloseTime,
		"duration", res.Duration,
	}
	switch res.State {
	case StateFailed:
		logger.Error("pair finished", append(attrs, "error", res.Err)...)
	case StateCancelled:
		logger.Warn("pair finished", attrs...)
	default:
		logger.Info("pair finished", attrs...)
	}
}
