package checkpoint

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// Timescale reads checkpoints from the candlesticks hypertable.
type Timescale struct {
	db *pgxpool.Pool
}

// NewTimescale creates a Timescale checkpoint store.
func NewTimescale(db *pgxpool.Pool) *Timescale {
	return &Timescale{db: db}
}

// LastCloseTime implements Store.
func (t *Timescale) LastCloseTime(ctx context.Context, key model.PairKey) (int64, bool, error) {
	var last *int64
	err := t.db.QueryRow(ctx, `
		SELECT MAX(c.close_time)
		FROM candlesticks c
		JOIN trading_pairs tp ON tp.id = c.trading_pair_id
		JOIN sources s ON s.id = tp.source_id
		WHERE s.name = $1 AND tp.symbol = $2 AND tp.interval = $3 AND c.final
	`, key.Source, key.Symbol, key.Interval.String()).Scan(&last)
	if err != nil {
		return 0, false, fmt.Errorf("checkpoint %s: %w", key, err)
	}
	if last == nil {
		return 0, false, nil
	}
	return *last, true, nil
}
