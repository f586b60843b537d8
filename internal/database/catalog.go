package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// ErrPairNotFound is returned when a trading pair is not in the catalog.
var ErrPairNotFound = errors.New("trading pair not found")

// Catalog maps sources and trading pairs to their row ids, creating rows on first use.
// Ids are cached until the pair is removed, here or through ForgetPair.
type Catalog struct {
	db     *pgxpool.Pool
	logger *slog.Logger

	mu      sync.Mutex
	sources map[string]int64
	pairs   map[model.PairKey]int64
}

// NewCatalog creates a Catalog.
func NewCatalog(db *pgxpool.Pool, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		db:      db,
		logger:  logger.With("component", "catalog"),
		sources: make(map[string]int64),
		pairs:   make(map[model.PairKey]int64),
	}
}

// EnsurePair returns the id of the trading pair, creating it and its source if needed.
func (c *Catalog) EnsurePair(ctx context.Context, pair model.TradingPair) (int64, error) {
	key := pair.Key()
	id, ok := c.cachedPair(key)
	if ok {
		return id, nil
	}

	sourceID, err := c.ensureSource(ctx, pair.Source)
	if err != nil {
		return 0, err
	}

	category := pair.Category
	if category == "" {
		category = model.DefaultPairCategory
	}

	// The no-op update makes RETURNING yield the existing row on conflict.
	err = c.db.QueryRow(ctx, `
		INSERT INTO trading_pairs (source_id, symbol, interval, category)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, symbol, interval) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING id
	`, sourceID, pair.Symbol, pair.Interval.String(), category).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure trading pair %s: %w", key, err)
	}

	c.mu.Lock()
	c.pairs[key] = id
	c.mu.Unlock()

	c.logger.Debug("trading pair registered", "pair", key.String(), "id", id)
	return id, nil
}

func (c *Catalog) ensureSource(ctx context.Context, src model.Source) (int64, error) {
	c.mu.Lock()
	id, ok := c.sources[src.Name]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	category := src.Category
	if category == "" {
		category = model.CategoryExchange
	}

	// Sources are immutable once created; the existing row wins.
	err := c.db.QueryRow(ctx, `
		INSERT INTO sources (name, category, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, src.Name, category, src.Description).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ensure source %s: %w", src.Name, err)
	}

	c.mu.Lock()
	c.sources[src.Name] = id
	c.mu.Unlock()
	return id, nil
}

// ForgetPair drops the cached id of a pair so the next EnsurePair reads or recreates
// the row. Writers call it when the cached id no longer exists, e.g. after the pair
// was removed by another process.
func (c *Catalog) ForgetPair(key model.PairKey) {
	c.mu.Lock()
	delete(c.pairs, key)
	c.mu.Unlock()
}

func (c *Catalog) cachedPair(key model.PairKey) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.pairs[key]
	return id, ok
}

// LookupPair returns the id of an existing trading pair.
func (c *Catalog) LookupPair(ctx context.Context, key model.PairKey) (int64, error) {
	id, ok := c.cachedPair(key)
	if ok {
		return id, nil
	}

	err := c.db.QueryRow(ctx, `
		SELECT tp.id
		FROM trading_pairs tp
		JOIN sources s ON s.id = tp.source_id
		WHERE s.name = $1 AND tp.symbol = $2 AND tp.interval = $3
	`, key.Source, key.Symbol, key.Interval.String()).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrPairNotFound, key)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup trading pair %s: %w", key, err)
	}
	return id, nil
}

// DeletePair removes a trading pair and, by cascade, all of its candlesticks.
// It returns the number of candlesticks removed.
func (c *Catalog) DeletePair(ctx context.Context, key model.PairKey) (int64, error) {
	id, err := c.LookupPair(ctx, key)
	if err != nil {
		return 0, err
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var candles int64
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM candlesticks WHERE trading_pair_id = $1`, id,
	).Scan(&candles); err != nil {
		return 0, fmt.Errorf("count candlesticks: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM trading_pairs WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("delete trading pair %s: %w", key, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	c.ForgetPair(key)

	c.logger.Info("trading pair removed", "pair", key.String(), "candlesticks", candles)
	return candles, nil
}
