// Package fetcher pages through a pair's candlestick history.
package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/api"
	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// KlineSource is the upstream query the fetcher pages over.
type KlineSource interface {
	GetKlines(ctx context.Context, req api.KlinesRequest) ([]model.Candlestick, error)
}

// DefaultSettleGrace is how long after close_time a candle is still treated as open,
// covering the exchange's finalization lag.
const DefaultSettleGrace = 5 * time.Second

// Page is one bounded slice of a pair's history.
type Page struct {
	Candles []model.Candlestick // Ascending by open time, all opening after the requested point
	HasMore bool                // The upstream page was full; request again from LastCloseTime

	// FetchedAt is when the response arrived. Candles are marked final against it.
	FetchedAt time.Time

	// Overlap counts rows the upstream returned at or before the requested point.
	// They are already stored and are dropped here.
	Overlap int
}

// LastCloseTime returns the close time of the last candle, or false for an empty page.
func (p Page) LastCloseTime() (int64, bool) {
	if len(p.Candles) == 0 {
		return 0, false
	}
	return p.Candles[len(p.Candles)-1].CloseTime, true
}

// Fetcher retrieves pages of candlesticks strictly after a point in time.
type Fetcher struct {
	source   KlineSource
	pageSize int
	grace    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithSettleGrace sets how long after close_time a candle still counts as open.
func WithSettleGrace(d time.Duration) Option {
	return func(f *Fetcher) {
		f.grace = d
	}
}

// WithClock overrides the time source used to stamp pages.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		f.now = now
	}
}

// New creates a Fetcher requesting pageSize rows per call.
func New(source KlineSource, pageSize int, logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 || pageSize > api.MaxKlinesLimit {
		pageSize = api.MaxKlinesLimit
	}
	f := &Fetcher{
		source:   source,
		pageSize: pageSize,
		grace:    DefaultSettleGrace,
		logger:   logger.With("component", "fetcher"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// PageSize returns the number of rows requested per page.
func (f *Fetcher) PageSize() int {
	return f.pageSize
}

// FetchPage returns the candles whose open time is after fromExclusive (ms since epoch).
// A candle is marked final when its close time plus the settle grace had passed when
// the response arrived; how long the page later takes to be written does not matter.
//
// Rate-limit and transient failures are retried by the source; an error returned here
// has exhausted its budget or is permanent. An undecodable response is treated as the
// end of the series: an empty page with HasMore false.
func (f *Fetcher) FetchPage(ctx context.Context, pair model.TradingPair, fromExclusive int64) (Page, error) {
	raw, err := f.source.GetKlines(ctx, api.KlinesRequest{
		Symbol:    pair.Symbol,
		Interval:  pair.Interval,
		StartTime: time.UnixMilli(fromExclusive + 1),
		Limit:     f.pageSize,
	})
	if err != nil {
		if api.IsMalformed(err) {
			f.logger.Warn("malformed page treated as end of data",
				"symbol", pair.Symbol,
				"interval", pair.Interval,
				"from", fromExclusive,
				"error", err,
			)
			return Page{}, nil
		}
		return Page{}, err
	}

	fetchedAt := f.now()
	settled := fetchedAt.Add(-f.grace)

	page := Page{
		Candles:   make([]model.Candlestick, 0, len(raw)),
		HasMore:   len(raw) >= f.pageSize,
		FetchedAt: fetchedAt,
	}

	last := fromExclusive
	for _, c := range raw {
		if c.OpenTime <= last {
			// Already stored, or out of order.
			page.Overlap++
			continue
		}
		c.Final = c.ClosedAt(settled)
		page.Candles = append(page.Candles, c)
		last = c.OpenTime
	}

	// A full page that made no progress would loop forever.
	if page.HasMore && len(page.Candles) == 0 {
		f.logger.Warn("full page without new rows, stopping",
			"symbol", pair.Symbol,
			"interval", pair.Interval,
			"from", fromExclusive,
		)
		page.HasMore = false
	}

	return page, nil
}
