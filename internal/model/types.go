package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Source categories.
const (
	CategoryExchange = "exchange"
	CategoryMacro    = "macro"
)

// DefaultPairCategory is used for trading pairs configured without a category.
const DefaultPairCategory = "crypto"

// PriceScale is the number of fractional digits kept for prices and volumes.
const PriceScale = 8

// maxNumeric is the exclusive upper bound of a NUMERIC(18,8) value.
var maxNumeric = decimal.New(1, 18-PriceScale)

// Source is an upstream data provider.
type Source struct {
	Name        string // Unique name (e.g., "Binance")
	Category    string // "exchange" or "macro"
	Description string
}

// PairKey identifies one ingestible series.
type PairKey struct {
	Source   string
	Symbol   string
	Interval Interval
}

func (k PairKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Source, k.Symbol, k.Interval)
}

// TradingPair is a configured series together with its ingestion settings.
type TradingPair struct {
	Source    Source
	Symbol    string    // Exchange symbol (e.g., "LINKUSDT")
	Interval  Interval  // Candle interval (e.g., "1m")
	Category  string    // e.g., "crypto"
	StartDate time.Time // First open time to ingest when no data is stored
}

// Key returns the series identity of the pair.
func (p TradingPair) Key() PairKey {
	return PairKey{Source: p.Source.Name, Symbol: p.Symbol, Interval: p.Interval}
}

// Candlestick is one OHLCV observation of a trading pair.
type Candlestick struct {
	Timestamp time.Time // Open time (UTC), unique per pair
	OpenTime  int64     // ms since epoch
	CloseTime int64     // ms since epoch

	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal

	Trades *int64 // Number of trades, nil when the source does not report it

	// Final is true when the candle had already settled at the time it was fetched.
	// Once stored, final candles are immutable history.
	Final bool
}

// ClosedAt reports whether the candle window has ended at now.
func (c Candlestick) ClosedAt(now time.Time) bool {
	return c.CloseTime < now.UnixMilli()
}

// SameValues reports whether two observations of the same window carry identical data.
func (c Candlestick) SameValues(o Candlestick) bool {
	if c.OpenTime != o.OpenTime || c.CloseTime != o.CloseTime {
		return false
	}
	if !c.Open.Equal(o.Open) || !c.High.Equal(o.High) || !c.Low.Equal(o.Low) ||
		!c.Close.Equal(o.Close) || !c.Volume.Equal(o.Volume) {
		return false
	}
	switch {
	case c.Trades == nil && o.Trades == nil:
		return true
	case c.Trades == nil || o.Trades == nil:
		return false
	default:
		return *c.Trades == *o.Trades
	}
}

// Validate checks the candle is internally consistent and fits the storage precision.
func (c Candlestick) Validate() error {
	if c.CloseTime < c.OpenTime {
		return fmt.Errorf("%w: close_time %d before open_time %d", ErrInvalidCandle, c.CloseTime, c.OpenTime)
	}
	if c.High.LessThan(c.Low) {
		return fmt.Errorf("%w: high %s below low %s", ErrInvalidCandle, c.High, c.Low)
	}
	for _, v := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if v.IsNegative() {
			return fmt.Errorf("%w: negative value %s", ErrInvalidCandle, v)
		}
		if v.Abs().GreaterThanOrEqual(maxNumeric) {
			return fmt.Errorf("%w: value %s exceeds NUMERIC(18,%d)", ErrInvalidCandle, v, PriceScale)
		}
	}
	return nil
}

// RoundValue rounds a price or volume to the storage precision.
func RoundValue(d decimal.Decimal) decimal.Decimal {
	return d.Round(PriceScale)
}
