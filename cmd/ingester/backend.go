package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/rickgao/ohlcv-ingest/internal/checkpoint"
	"github.com/rickgao/ohlcv-ingest/internal/config"
	"github.com/rickgao/ohlcv-ingest/internal/database"
	"github.com/rickgao/ohlcv-ingest/internal/filestore"
	"github.com/rickgao/ohlcv-ingest/internal/model"
	"github.com/rickgao/ohlcv-ingest/internal/writer"
)

// errPairNotFound is returned by remove for a pair with no stored data.
var errPairNotFound = errors.New("trading pair not found")

// backend bundles the storage-specific parts of the pipeline.
type backend struct {
	checkpoints checkpoint.Store
	writer      writer.Writer

	ensure     func(ctx context.Context, pair model.TradingPair) error
	deletePair func(ctx context.Context, key model.PairKey) (int64, error)
	ping       func(ctx context.Context) error
	close      func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Storage.Driver {
	case config.StorageFile:
		store := filestore.NewOs(cfg.Storage.DataDir, logger)
		logger.Info("using file storage", "data_dir", cfg.Storage.DataDir)
		return &backend{
			checkpoints: store,
			writer:      store,
			ensure:      store.EnsurePair,
			deletePair:  store.DeletePair,
			ping:        func(context.Context) error { return nil },
			close:       func() {},
		}, nil

	case config.StorageTimescale:
		db := cfg.Database.Timescale
		logger.Info("connecting to database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)
		pool, err := database.Connect(ctx, db)
		if err != nil {
			return nil, err
		}
		logger.Info("database connected")

		catalog := database.NewCatalog(pool, logger)
		return &backend{
			checkpoints: checkpoint.NewTimescale(pool),
			writer:      writer.NewTimescaleWriter(pool, catalog, logger),
			ensure: func(ctx context.Context, pair model.TradingPair) error {
				_, err := catalog.EnsurePair(ctx, pair)
				return err
			},
			deletePair: catalog.DeletePair,
			ping:       pool.Ping,
			close:      pool.Close,
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", model.ErrConfig, cfg.Storage.Driver)
	}
}

// Close releases the backend's resources.
func (b *backend) Close() {
	b.close()
}

// registerPairs creates the catalog entries of every configured pair.
func (b *backend) registerPairs(ctx context.Context, pairs []model.TradingPair) error {
	for _, p := range pairs {
		if err := b.ensure(ctx, p); err != nil {
			return fmt.Errorf("register %s: %w", p.Key(), err)
		}
	}
	return nil
}

func (b *backend) remove(ctx context.Context, key model.PairKey) (int64, error) {
	n, err := b.deletePair(ctx, key)
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, database.ErrPairNotFound) {
		return 0, fmt.Errorf("%s: %w", key, errPairNotFound)
	}
	return n, err
}

// parsePairKey parses SYMBOL/INTERVAL for the configured source.
func parsePairKey(source, s string) (model.PairKey, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return model.PairKey{}, fmt.Errorf("%w: pair must be SYMBOL/INTERVAL, got %q", model.ErrConfig, s)
	}
	interval, err := model.ParseInterval(s[i+1:])
	if err != nil {
		return model.PairKey{}, fmt.Errorf("%w: %w", model.ErrConfig, err)
	}
	return model.PairKey{
		Source:   source,
		Symbol:   strings.ToUpper(strings.ReplaceAll(s[:i], "/", "")),
		Interval: interval,
	}, nil
}
