package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultSourceName        = "Binance"
	DefaultSourceCategory    = "exchange"
	DefaultBaseURL           = "https://api.binance.com"
	DefaultAPITimeout        = 30 * time.Second
	DefaultPageSize          = 1000
	DefaultRequestsPerSecond = 5
	DefaultBurst             = 5
	DefaultSettleGrace       = 5 * time.Second
	DefaultStorageDriver     = StorageTimescale
	DefaultDataDir           = "./data"
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultConcurrency       = 4
	DefaultPageTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultMetricsPort       = 9090
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Default retry budgets per failure kind.
var (
	DefaultFetchRetry     = RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterPercent: 10}
	DefaultRateLimitRetry = RetryConfig{MaxAttempts: 10, BaseDelay: 5 * time.Second, MaxDelay: 2 * time.Minute, JitterPercent: 10}
	DefaultWriteRetry     = RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, JitterPercent: 10}
)

func (c *Config) applyDefaults() {
	if c.Source.Name == "" {
		c.Source.Name = DefaultSourceName
	}
	if c.Source.Category == "" {
		c.Source.Category = DefaultSourceCategory
	}

	// API defaults
	if c.API.BaseURL == "" {
		c.API.BaseURL = DefaultBaseURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.PageSize == 0 {
		c.API.PageSize = DefaultPageSize
	}
	if c.API.RequestsPerSecond == 0 {
		c.API.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.API.Burst == 0 {
		c.API.Burst = DefaultBurst
	}
	if c.API.SettleGrace == 0 {
		c.API.SettleGrace = DefaultSettleGrace
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if c.Storage.Driver == StorageFile && c.Storage.DataDir == "" {
		c.Storage.DataDir = DefaultDataDir
	}
	applyDBDefaults(&c.Database.Timescale)

	// Ingest defaults
	if c.Ingest.Concurrency == 0 {
		c.Ingest.Concurrency = DefaultConcurrency
	}
	if c.Ingest.PageTimeout == 0 {
		c.Ingest.PageTimeout = DefaultPageTimeout
	}
	if c.Ingest.WriteTimeout == 0 {
		c.Ingest.WriteTimeout = DefaultWriteTimeout
	}
	applyRetryDefaults(&c.Ingest.FetchRetry, DefaultFetchRetry)
	applyRetryDefaults(&c.Ingest.RateLimitRetry, DefaultRateLimitRetry)
	applyRetryDefaults(&c.Ingest.WriteRetry, DefaultWriteRetry)

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func applyRetryDefaults(r *RetryConfig, def RetryConfig) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.MaxDelay
	}
	if r.JitterPercent == 0 {
		r.JitterPercent = def.JitterPercent
	}
}
