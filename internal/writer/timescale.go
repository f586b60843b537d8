package writer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// PairRegistry resolves a trading pair to its catalog id, creating it if needed.
type PairRegistry interface {
	EnsurePair(ctx context.Context, pair model.TradingPair) (int64, error)
	// ForgetPair drops a cached id that turned out to be stale.
	ForgetPair(key model.PairKey)
}

// TimescaleWriter writes candlestick pages to the candlesticks hypertable.
type TimescaleWriter struct {
	db     *pgxpool.Pool
	pairs  PairRegistry
	logger *slog.Logger

	mu      sync.Mutex
	metrics WriterMetrics
}

// NewTimescaleWriter creates a new TimescaleWriter.
func NewTimescaleWriter(db *pgxpool.Pool, pairs PairRegistry, logger *slog.Logger) *TimescaleWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimescaleWriter{
		db:     db,
		pairs:  pairs,
		logger: logger.With("component", "timescale_writer"),
	}
}

// Stats returns current metrics.
func (w *TimescaleWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

// WriteBatch writes one page in a single transaction. Stored rows covering the page's
// time range are read inside the transaction and the page is planned against them.
func (w *TimescaleWriter) WriteBatch(ctx context.Context, pair model.TradingPair, candles []model.Candlestick) (Result, error) {
	if len(candles) == 0 {
		return Result{}, nil
	}

	start := time.Now()
	result, err := writeRefreshingPair(ctx, w.pairs, pair, func(pairID int64) (Result, error) {
		return w.writePage(ctx, pairID, candles)
	})
	if err != nil {
		w.mu.Lock()
		w.metrics.Errors++
		w.mu.Unlock()
		return Result{}, classifyError(err)
	}

	w.mu.Lock()
	w.metrics.Add(result)
	w.mu.Unlock()

	for _, v := range result.Violations {
		w.logger.Warn("rejected change to closed candle",
			"pair", pair.Key().String(),
			"timestamp", v.Timestamp,
			"stored_close", v.Stored.Close,
			"incoming_close", v.Incoming.Close,
		)
	}
	w.logger.Debug("wrote page",
		"pair", pair.Key().String(),
		"inserted", result.Inserted,
		"updated", result.Updated,
		"duplicates", result.Duplicates,
		"duration", time.Since(start),
	)
	return result, nil
}

// writeRefreshingPair resolves the pair id and runs write with it. When the write
// hits a foreign key violation the cached id is dropped, the pair is registered
// again and the write is repeated once.
func writeRefreshingPair(ctx context.Context, pairs PairRegistry, pair model.TradingPair, write func(pairID int64) (Result, error)) (Result, error) {
	pairID, err := pairs.EnsurePair(ctx, pair)
	if err != nil {
		return Result{}, fmt.Errorf("ensure pair: %w", err)
	}
	result, err := write(pairID)
	if err == nil || !isStalePair(err) {
		return result, err
	}

	pairs.ForgetPair(pair.Key())
	pairID, err = pairs.EnsurePair(ctx, pair)
	if err != nil {
		return Result{}, fmt.Errorf("ensure pair after stale id: %w", err)
	}
	return write(pairID)
}

func (w *TimescaleWriter) writePage(ctx context.Context, pairID int64, candles []model.Candlestick) (Result, error) {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	first, last := pageRange(candles)
	stored, err := loadStored(ctx, tx, pairID, first, last)
	if err != nil {
		return Result{}, err
	}

	plan := PlanPage(stored, candles)
	if plan.Empty() {
		return plan.Result(), nil
	}

	inserted, updated, err := applyPlan(ctx, tx, pairID, plan)
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}

	result := plan.Result()
	// Rows lost to a concurrent writer between read and write are already stored.
	result.Duplicates += (len(plan.Inserts) - inserted) + (len(plan.Updates) - updated)
	result.Inserted = inserted
	result.Updated = updated
	return result, nil
}

func pageRange(candles []model.Candlestick) (first, last time.Time) {
	first, last = candles[0].Timestamp, candles[0].Timestamp
	for _, c := range candles[1:] {
		if c.Timestamp.Before(first) {
			first = c.Timestamp
		}
		if c.Timestamp.After(last) {
			last = c.Timestamp
		}
	}
	return first, last
}

// loadStored reads stored rows for the pair in [first, last], keyed by open time.
// Numerics are read as text to keep full precision.
func loadStored(ctx context.Context, tx pgx.Tx, pairID int64, first, last time.Time) (map[int64]model.Candlestick, error) {
	rows, err := tx.Query(ctx, `
		SELECT timestamp, open_time, close_time,
		       open::text, high::text, low::text, close::text, volume::text,
		       number_of_trades, final
		FROM candlesticks
		WHERE trading_pair_id = $1 AND timestamp BETWEEN $2 AND $3
	`, pairID, first, last)
	if err != nil {
		return nil, fmt.Errorf("select stored: %w", err)
	}
	defer rows.Close()

	stored := make(map[int64]model.Candlestick)
	for rows.Next() {
		var (
			c                   model.Candlestick
			o, h, l, cl, volume string
		)
		if err := rows.Scan(&c.Timestamp, &c.OpenTime, &c.CloseTime,
			&o, &h, &l, &cl, &volume, &c.Trades, &c.Final); err != nil {
			return nil, fmt.Errorf("scan stored: %w", err)
		}
		if c.Open, err = decimal.NewFromString(o); err != nil {
			return nil, fmt.Errorf("parse open: %w", err)
		}
		if c.High, err = decimal.NewFromString(h); err != nil {
			return nil, fmt.Errorf("parse high: %w", err)
		}
		if c.Low, err = decimal.NewFromString(l); err != nil {
			return nil, fmt.Errorf("parse low: %w", err)
		}
		if c.Close, err = decimal.NewFromString(cl); err != nil {
			return nil, fmt.Errorf("parse close: %w", err)
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, fmt.Errorf("parse volume: %w", err)
		}
		stored[c.OpenTime] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read stored: %w", err)
	}
	return stored, nil
}

// applyPlan queues inserts and open-candle updates in one batch. Inserts use
// ON CONFLICT DO NOTHING and updates only touch non-final rows, so neither can
// change a closed candle.
func applyPlan(ctx context.Context, tx pgx.Tx, pairID int64, plan Plan) (inserted, updated int, err error) {
	batch := &pgx.Batch{}
	for _, c := range plan.Inserts {
		batch.Queue(`
			INSERT INTO candlesticks (trading_pair_id, timestamp, open_time, close_time,
				open, high, low, close, volume, number_of_trades, final)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (trading_pair_id, timestamp) DO NOTHING
		`, pairID, c.Timestamp, c.OpenTime, c.CloseTime,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(),
			c.Trades, c.Final)
	}
	for _, c := range plan.Updates {
		batch.Queue(`
			UPDATE candlesticks
			SET close_time = $3, open = $4, high = $5, low = $6, close = $7, volume = $8,
				number_of_trades = $9, final = $10
			WHERE trading_pair_id = $1 AND timestamp = $2 AND NOT final
		`, pairID, c.Timestamp, c.CloseTime,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.Volume.String(),
			c.Trades, c.Final)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for range plan.Inserts {
		ct, err := results.Exec()
		if err != nil {
			return 0, 0, fmt.Errorf("insert: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	for range plan.Updates {
		ct, err := results.Exec()
		if err != nil {
			return 0, 0, fmt.Errorf("update: %w", err)
		}
		updated += int(ct.RowsAffected())
	}

	if err := results.Close(); err != nil {
		return 0, 0, fmt.Errorf("close batch: %w", err)
	}
	return inserted, updated, nil
}
