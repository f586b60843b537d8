package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/rickgao/ohlcv-ingest/internal/api"
	"github.com/rickgao/ohlcv-ingest/internal/config"
	"github.com/rickgao/ohlcv-ingest/internal/fetcher"
	"github.com/rickgao/ohlcv-ingest/internal/ingest"
	"github.com/rickgao/ohlcv-ingest/internal/logging"
	"github.com/rickgao/ohlcv-ingest/internal/metrics"
	"github.com/rickgao/ohlcv-ingest/internal/ratelimit"
	"github.com/rickgao/ohlcv-ingest/internal/retry"
	"github.com/rickgao/ohlcv-ingest/internal/version"
	"github.com/rickgao/ohlcv-ingest/internal/writer"
)

// envConfig holds process settings that may come from the environment or a .env file.
type envConfig struct {
	ConfigPath string `env:"INGEST_CONFIG" envDefault:"configs/ingest.yaml"`
	LogLevel   string `env:"LOG_LEVEL"`
	LogFormat  string `env:"LOG_FORMAT"`
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var envCfg envConfig
	if err := loadEnv(&envCfg); err != nil {
		slog.Error("failed to load environment", "error", err)
		return ingest.ExitFailed
	}

	configPath := flag.String("config", envCfg.ConfigPath, "path to config file")
	removePair := flag.String("remove-pair", "", "delete SYMBOL/INTERVAL and all of its candles, then exit")
	once := flag.Bool("once", false, "run once and exit even if a schedule interval is configured")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "config", *configPath, "error", err)
		return ingest.ExitFailed
	}
	if envCfg.LogLevel != "" {
		cfg.Log.Level = envCfg.LogLevel
	}
	if envCfg.LogFormat != "" {
		cfg.Log.Format = envCfg.LogFormat
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		return ingest.ExitFailed
	}
	slog.SetDefault(logger)

	logger.Info("starting ingester",
		version.Attr(),
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
		"source", cfg.Source.Name,
		"storage", cfg.Storage.Driver,
	)

	// Pairs are resolved before any storage or network side effect.
	pairs, err := cfg.TradingPairs()
	if err != nil {
		logger.Error("invalid trading pairs", "error", err)
		return ingest.ExitFailed
	}

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		return ingest.ExitFailed
	}
	defer be.Close()

	if *removePair != "" {
		if err := removeTradingPair(ctx, cfg, be, *removePair); err != nil {
			logger.Error("failed to remove trading pair", "pair", *removePair, "error", err)
			return ingest.ExitFailed
		}
		return ingest.ExitOK
	}

	if err := be.registerPairs(ctx, pairs); err != nil {
		logger.Error("failed to register trading pairs", "error", err)
		return ingest.ExitFailed
	}

	m := metrics.New()
	observeRetry := func(e retry.Event) { m.ObserveRetry(e.Kind) }

	client := api.NewClient(
		cfg.API.BaseURL,
		cfg.API.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithAttemptTimeout(cfg.Ingest.PageTimeout),
		api.WithRetries(policy(cfg.Ingest.FetchRetry), policy(cfg.Ingest.RateLimitRetry)),
		api.WithRateLimiter(ratelimit.New(cfg.API.RequestsPerSecond, cfg.API.Burst)),
		api.WithRetryNotify(observeRetry),
	)

	pages := fetcher.New(client, cfg.API.PageSize, logger, fetcher.WithSettleGrace(cfg.API.SettleGrace))
	w := writer.NewRetrying(be.writer, policy(cfg.Ingest.WriteRetry), cfg.Ingest.WriteTimeout, logger, observeRetry)

	orch, err := ingest.New(pairs, be.checkpoints, pages, w,
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
		ingest.WithLogger(logger),
		ingest.WithStatusCheck(client),
		ingest.WithRecorder(m),
	)
	if err != nil {
		logger.Error("failed to create orchestrator", "error", err)
		return ingest.ExitFailed
	}

	if cfg.Ingest.ScheduleInterval <= 0 || *once {
		summary := orch.Run(ctx)
		writeSummary(os.Stdout, summary)
		return summary.ExitCode()
	}

	if err := runDaemon(ctx, cfg, orch, be, m, logger); err != nil {
		logger.Error("ingester terminated", "error", err)
		return ingest.ExitFailed
	}
	logger.Info("ingester stopped")
	return ingest.ExitOK
}

func loadEnv(cfg *envConfig) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	return env.Parse(cfg)
}

func policy(rc config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:   rc.MaxAttempts,
		BaseDelay:     rc.BaseDelay,
		MaxDelay:      rc.MaxDelay,
		JitterPercent: rc.JitterPercent,
	}
}

func removeTradingPair(ctx context.Context, cfg *config.Config, be *backend, pairArg string) error {
	key, err := parsePairKey(cfg.Source.Name, pairArg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	n, err := be.remove(ctx, key)
	if err != nil {
		return err
	}
	fmt.Printf("removed %s (%d candlesticks)\n", key, n)
	return nil
}
