package config

import "time"

// Config is the root configuration for an ingester instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Source   SourceConfig   `yaml:"source"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Pairs    []PairConfig   `yaml:"pairs"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InstanceConfig identifies this ingester.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// SourceConfig describes the upstream provider all pairs belong to.
type SourceConfig struct {
	Name        string `yaml:"name"`
	Category    string `yaml:"category"` // exchange or macro
	Description string `yaml:"description"`
}

// APIConfig holds exchange REST API settings.
type APIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	PageSize          int           `yaml:"page_size"`           // Max candles per request
	RequestsPerSecond float64       `yaml:"requests_per_second"` // Shared across all pairs
	Burst             int           `yaml:"burst"`
	// SettleGrace is how long past its close time a candle must be, when fetched,
	// to be stored as final.
	SettleGrace time.Duration `yaml:"settle_grace"`
}

// Storage drivers.
const (
	StorageTimescale = "timescale"
	StorageFile      = "file"
)

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver  string `yaml:"driver"`   // timescale or file
	DataDir string `yaml:"data_dir"` // Root directory for the file driver
}

// DatabaseConfig holds the TimescaleDB connection for candle data.
type DatabaseConfig struct {
	Timescale DBConfig `yaml:"timescale"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// IngestConfig holds orchestrator settings.
type IngestConfig struct {
	Concurrency      int           `yaml:"concurrency"`       // Pairs processed in parallel
	PageTimeout      time.Duration `yaml:"page_timeout"`      // Per fetch attempt
	WriteTimeout     time.Duration `yaml:"write_timeout"`     // Per write attempt
	ScheduleInterval time.Duration `yaml:"schedule_interval"` // 0 = run once and exit

	FetchRetry     RetryConfig `yaml:"fetch_retry"`
	RateLimitRetry RetryConfig `yaml:"rate_limit_retry"`
	WriteRetry     RetryConfig `yaml:"write_retry"`
}

// RetryConfig holds a bounded exponential backoff.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	JitterPercent uint64        `yaml:"jitter_percent"`
}

// PairConfig is one configured series.
type PairConfig struct {
	Symbol    string `yaml:"symbol"`
	Interval  string `yaml:"interval"`
	StartDate string `yaml:"start_date"`
	Category  string `yaml:"category"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
