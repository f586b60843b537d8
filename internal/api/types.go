package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// MaxKlinesLimit is the largest page the klines endpoint serves.
const MaxKlinesLimit = 1000

// SystemStatusResponse from GET /sapi/v1/system/status
type SystemStatusResponse struct {
	Status int    `json:"status"` // 0 normal, 1 system maintenance
	Msg    string `json:"msg"`
}

// Normal reports whether the exchange is accepting requests.
func (s SystemStatusResponse) Normal() bool {
	return s.Status == 0
}

// KlinesRequest selects one page of klines.
type KlinesRequest struct {
	Symbol    string
	Interval  model.Interval
	StartTime time.Time // Inclusive lower bound on open time; zero for the most recent page
	Limit     int
}

// Kline is one row of GET /api/v3/klines. The endpoint encodes rows as arrays:
//
//	[openTime, "open", "high", "low", "close", "volume", closeTime,
//	 "quoteVolume", trades, "takerBase", "takerQuote", "ignore"]
type Kline struct {
	OpenTime  int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	CloseTime int64
	Trades    int64
}

// Kline column positions.
const (
	colOpenTime = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colCloseTime
	colQuoteVolume
	colTrades
	minKlineColumns
)

// UnmarshalJSON decodes the positional array form.
func (k *Kline) UnmarshalJSON(data []byte) error {
	var cols []json.RawMessage
	if err := json.Unmarshal(data, &cols); err != nil {
		return err
	}
	if len(cols) < minKlineColumns {
		return fmt.Errorf("kline has %d columns, want at least %d", len(cols), minKlineColumns)
	}

	fields := []struct {
		col int
		dst any
	}{
		{colOpenTime, &k.OpenTime},
		{colOpen, &k.Open},
		{colHigh, &k.High},
		{colLow, &k.Low},
		{colClose, &k.Close},
		{colVolume, &k.Volume},
		{colCloseTime, &k.CloseTime},
		{colTrades, &k.Trades},
	}
	for _, f := range fields {
		if err := json.Unmarshal(cols[f.col], f.dst); err != nil {
			return fmt.Errorf("kline column %d: %w", f.col, err)
		}
	}
	return nil
}

// Candlestick converts the kline to the storage model, rounding values to the
// storage precision. Unparsable numbers wrap ErrMalformedResponse; rows that parse
// but cannot be stored wrap model.ErrInvalidCandle.
func (k Kline) Candlestick() (model.Candlestick, error) {
	values := make([]decimal.Decimal, 0, 5)
	for _, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return model.Candlestick{}, fmt.Errorf("%w: parse %q: %w", ErrMalformedResponse, s, err)
		}
		values = append(values, model.RoundValue(d))
	}

	trades := k.Trades
	c := model.Candlestick{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
		Trades:    &trades,
	}
	if err := c.Validate(); err != nil {
		return model.Candlestick{}, err
	}
	return c, nil
}
