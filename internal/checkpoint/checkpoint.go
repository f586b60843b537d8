// Package checkpoint derives a pair's resume point from the data already stored.
//
// There is no separate checkpoint record. The resume point is the largest close time
// among the pair's final candles, recomputed on every read, so it can never disagree
// with what was actually persisted. A still-open tail candle does not advance it and
// is fetched again on the next run.
package checkpoint

import (
	"context"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// Store reports the last persisted close time (ms since epoch) of a pair.
// ok is false when nothing has been stored for the pair yet.
// Implementations must be safe for concurrent use across pairs.
type Store interface {
	LastCloseTime(ctx context.Context, key model.PairKey) (closeTime int64, ok bool, err error)
}

// ResumePoint returns the exclusive lower bound for the next fetch: the checkpoint
// if one exists, otherwise one millisecond before the pair's start date.
func ResumePoint(ctx context.Context, s Store, pair model.TradingPair) (from int64, resumed bool, err error) {
	last, ok, err := s.LastCloseTime(ctx, pair.Key())
	if err != nil {
		return 0, false, err
	}
	if ok {
		return last, true, nil
	}
	return pair.StartDate.UnixMilli() - 1, false, nil
}
