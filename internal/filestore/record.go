package filestore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// record is the on-disk form of a candlestick.
type record struct {
	OpenTime  int64           `json:"open_time"`
	CloseTime int64           `json:"close_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Trades    *int64          `json:"number_of_trades,omitempty"`
	Final     bool            `json:"final"`
}

func toRecord(c model.Candlestick) record {
	return record{
		OpenTime:  c.OpenTime,
		CloseTime: c.CloseTime,
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Trades:    c.Trades,
		Final:     c.Final,
	}
}

func (r record) candlestick() model.Candlestick {
	return model.Candlestick{
		Timestamp: time.UnixMilli(r.OpenTime).UTC(),
		OpenTime:  r.OpenTime,
		CloseTime: r.CloseTime,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		Trades:    r.Trades,
		Final:     r.Final,
	}
}

// pairMeta is the content of pair.json.
type pairMeta struct {
	Source         string    `json:"source"`
	SourceCategory string    `json:"source_category"`
	Symbol         string    `json:"symbol"`
	Interval       string    `json:"interval"`
	Category       string    `json:"category"`
	CreatedAt      time.Time `json:"created_at"`
}
