package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/ingest"
)

// Runner performs one ingestion run.
type Runner interface {
	Run(ctx context.Context) *ingest.Summary
}

// SummaryHandler receives the summary of every completed run.
type SummaryHandler interface {
	HandleSummary(summary *ingest.Summary)
}

// SummaryHandlerFunc is a function adapter for SummaryHandler.
type SummaryHandlerFunc func(*ingest.Summary)

func (f SummaryHandlerFunc) HandleSummary(s *ingest.Summary) {
	f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Time between run starts (default: 1m)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
	}
}

// Poller periodically runs ingestion.
type Poller struct {
	cfg     Config
	runner  Runner
	handler SummaryHandler
	logger  *slog.Logger

	runs atomic.Int64
	last atomic.Pointer[ingest.Summary]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, runner Runner, handler SummaryHandler, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Poller{
		cfg:     cfg,
		runner:  runner,
		handler: handler,
		logger:  logger.With("component", "poller"),
	}
}

// Start begins the scheduling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("ingest poller started", "interval", p.cfg.Interval)
	return nil
}

// Stop cancels any in-progress run and waits for the loop to exit.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ingest poller stopped", "runs", p.runs.Load())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Runs returns the number of completed runs.
func (p *Poller) Runs() int64 {
	return p.runs.Load()
}

// LastSummary returns the most recent run summary, or nil before the first run ends.
func (p *Poller) LastSummary() *ingest.Summary {
	return p.last.Load()
}

func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start.
	p.runOnce()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runOnce()
		}
	}
}

func (p *Poller) runOnce() {
	if p.ctx.Err() != nil {
		return
	}

	summary := p.runner.Run(p.ctx)
	p.runs.Add(1)
	p.last.Store(summary)

	if p.handler != nil {
		p.handler.HandleSummary(summary)
	}

	if n := summary.Count(ingest.StateFailed); n > 0 {
		p.logger.Warn("scheduled run had failures",
			"run_id", summary.RunID,
			"failed", n,
		)
	}
}
