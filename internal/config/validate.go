package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// ValidationError describes one invalid configuration field. It matches model.ErrConfig.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

func (e *ValidationError) Unwrap() error {
	return model.ErrConfig
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Start date layouts accepted in pairs[].start_date.
var startDateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2 Jan, 2006",
}

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return invalid("instance.id", "is required")
	}

	if c.Source.Name == "" {
		return invalid("source.name", "is required")
	}
	switch c.Source.Category {
	case model.CategoryExchange, model.CategoryMacro:
	default:
		return invalid("source.category", "must be %q or %q, got %q", model.CategoryExchange, model.CategoryMacro, c.Source.Category)
	}

	if c.API.BaseURL == "" {
		return invalid("api.base_url", "is required")
	}
	if c.API.PageSize < 1 {
		return invalid("api.page_size", "must be >= 1")
	}
	if c.API.RequestsPerSecond <= 0 {
		return invalid("api.requests_per_second", "must be > 0")
	}
	if c.API.Burst < 1 {
		return invalid("api.burst", "must be >= 1")
	}
	if c.API.SettleGrace < 0 {
		return invalid("api.settle_grace", "must be >= 0")
	}

	switch c.Storage.Driver {
	case StorageTimescale:
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
	case StorageFile:
		if c.Storage.DataDir == "" {
			return invalid("storage.data_dir", "is required for the file driver")
		}
	default:
		return invalid("storage.driver", "must be %q or %q, got %q", StorageTimescale, StorageFile, c.Storage.Driver)
	}

	if c.Ingest.Concurrency < 1 {
		return invalid("ingest.concurrency", "must be >= 1")
	}
	if c.Ingest.ScheduleInterval < 0 {
		return invalid("ingest.schedule_interval", "must be >= 0")
	}
	if err := c.Ingest.FetchRetry.validate("ingest.fetch_retry"); err != nil {
		return err
	}
	if err := c.Ingest.RateLimitRetry.validate("ingest.rate_limit_retry"); err != nil {
		return err
	}
	if err := c.Ingest.WriteRetry.validate("ingest.write_retry"); err != nil {
		return err
	}

	if len(c.Pairs) == 0 {
		return invalid("pairs", "must contain at least one pair")
	}
	if _, err := c.TradingPairs(); err != nil {
		return err
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return invalid("metrics.port", "must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return invalid("log.format", "must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// TradingPairs resolves the configured pairs against the configured source.
// Duplicate symbol/interval combinations are rejected.
func (c *Config) TradingPairs() ([]model.TradingPair, error) {
	source := model.Source{
		Name:        c.Source.Name,
		Category:    c.Source.Category,
		Description: c.Source.Description,
	}

	seen := make(map[model.PairKey]bool, len(c.Pairs))
	pairs := make([]model.TradingPair, 0, len(c.Pairs))
	for i, pc := range c.Pairs {
		prefix := fmt.Sprintf("pairs[%d]", i)
		pair, err := pc.resolve(prefix, source)
		if err != nil {
			return nil, err
		}
		if seen[pair.Key()] {
			return nil, invalid(prefix, "duplicates %s/%s", pair.Symbol, pair.Interval)
		}
		seen[pair.Key()] = true
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func (pc PairConfig) resolve(prefix string, source model.Source) (model.TradingPair, error) {
	// "LINK/USDT" and "LINKUSDT" name the same exchange symbol.
	symbol := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pc.Symbol), "/", ""))
	if symbol == "" {
		return model.TradingPair{}, invalid(prefix+".symbol", "is required")
	}

	interval, err := model.ParseInterval(pc.Interval)
	if err != nil {
		return model.TradingPair{}, invalid(prefix+".interval", "unknown interval %q", pc.Interval)
	}

	start, err := ParseStartDate(pc.StartDate)
	if err != nil {
		return model.TradingPair{}, invalid(prefix+".start_date", "%v", err)
	}

	category := pc.Category
	if category == "" {
		category = model.DefaultPairCategory
	}

	return model.TradingPair{
		Source:    source,
		Symbol:    symbol,
		Interval:  interval,
		Category:  category,
		StartDate: start,
	}, nil
}

// ParseStartDate parses a pair start date as UTC.
func ParseStartDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("is required")
	}
	for _, layout := range startDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q", s)
}

func (r RetryConfig) validate(prefix string) error {
	if r.MaxAttempts < 1 {
		return invalid(prefix+".max_attempts", "must be >= 1")
	}
	if r.BaseDelay <= 0 {
		return invalid(prefix+".base_delay", "must be > 0")
	}
	if r.MaxDelay < r.BaseDelay {
		return invalid(prefix+".max_delay", "cannot be less than base_delay")
	}
	if r.JitterPercent > 100 {
		return invalid(prefix+".jitter_percent", "must be <= 100")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return invalid(prefix+".host", "is required")
	}
	if db.Name == "" {
		return invalid(prefix+".name", "is required")
	}
	if db.User == "" {
		return invalid(prefix+".user", "is required")
	}
	if db.Password == "" {
		return invalid(prefix+".password", "is required")
	}
	if db.MaxConns < 1 {
		return invalid(prefix+".max_conns", "must be >= 1")
	}
	if db.MinConns < 0 {
		return invalid(prefix+".min_conns", "must be >= 0")
	}
	if db.MinConns > db.MaxConns {
		return invalid(prefix+".min_conns", "(%d) cannot exceed max_conns (%d)", db.MinConns, db.MaxConns)
	}
	return nil
}
