package writer

import (
	"context"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// Writer persists one page of candlesticks for a trading pair.
type Writer interface {
	WriteBatch(ctx context.Context, pair model.TradingPair, candles []model.Candlestick) (Result, error)
}

// Violation is a rejected attempt to change an already-closed candle.
type Violation struct {
	Timestamp time.Time
	Stored    model.Candlestick
	Incoming  model.Candlestick
}

// Result summarizes one written page.
type Result struct {
	Inserted   int // New timestamps
	Updated    int // Open candles overwritten
	Duplicates int // Identical rows already stored
	Violations []Violation

	// MaxFinalCloseTime is the largest close time among the page's final rows, 0 if none.
	MaxFinalCloseTime int64
}

// Written returns the number of rows inserted or updated.
func (r Result) Written() int {
	return r.Inserted + r.Updated
}

// Rejected returns the number of rows refused as integrity violations.
func (r Result) Rejected() int {
	return len(r.Violations)
}

// WriterMetrics holds cumulative counters for a writer.
type WriterMetrics struct {
	Inserts    int64
	Updates    int64
	Duplicates int64
	Rejected   int64
	Errors     int64
	Batches    int64
}

// Add accumulates one page result.
func (m *WriterMetrics) Add(r Result) {
	m.Inserts += int64(r.Inserted)
	m.Updates += int64(r.Updated)
	m.Duplicates += int64(r.Duplicates)
	m.Rejected += int64(r.Rejected())
	m.Batches++
}
