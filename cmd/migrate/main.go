package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/ohlcv-ingest/internal/config"
	"github.com/rickgao/ohlcv-ingest/internal/database"
	"github.com/rickgao/ohlcv-ingest/internal/logging"
	"github.com/rickgao/ohlcv-ingest/internal/migrations"
	"github.com/rickgao/ohlcv-ingest/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/ingest.yaml", "path to config file")
	command := flag.String("command", "up", "migration command: up, down or status")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if cfg.Storage.Driver != config.StorageTimescale {
		logger.Info("storage driver has no schema, nothing to migrate", "driver", cfg.Storage.Driver)
		return
	}

	logger.Info("running migrations", version.Attr(), "command", *command, "database", cfg.Database.Timescale.Name)

	pool, err := database.Connect(ctx, cfg.Database.Timescale)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	db := database.OpenDB(pool)
	defer db.Close()

	switch *command {
	case "up":
		err = migrations.Up(ctx, db)
	case "down":
		err = migrations.Down(ctx, db)
	case "status":
		err = migrations.Status(ctx, db)
	default:
		logger.Error("unknown command", "command", *command)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("migration failed", "command", *command, "error", err)
		os.Exit(1)
	}

	logger.Info("migrations complete", "command", *command)
}
