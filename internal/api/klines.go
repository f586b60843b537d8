package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// GetKlines retrieves one page of candlesticks ordered by open time ascending.
// A body that cannot be decoded returns an error wrapping ErrMalformedResponse; a
// decoded row the store cannot hold returns model.ErrInvalidCandle.
func (c *Client) GetKlines(ctx context.Context, req KlinesRequest) ([]model.Candlestick, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("get klines: %w: symbol is required", model.ErrPermanentFetch)
	}

	query := url.Values{}
	query.Set("symbol", req.Symbol)
	query.Set("interval", req.Interval.String())
	if !req.StartTime.IsZero() {
		query.Set("startTime", strconv.FormatInt(req.StartTime.UnixMilli(), 10))
	}
	if req.Limit > 0 {
		limit := req.Limit
		if limit > MaxKlinesLimit {
			limit = MaxKlinesLimit
		}
		query.Set("limit", strconv.Itoa(limit))
	}

	var klines []Kline
	if err := c.get(ctx, "/api/v3/klines", query, &klines); err != nil {
		return nil, fmt.Errorf("get klines %s %s: %w", req.Symbol, req.Interval, err)
	}

	candles := make([]model.Candlestick, 0, len(klines))
	for i, k := range klines {
		candle, err := k.Candlestick()
		if err != nil {
			return nil, fmt.Errorf("get klines %s %s: row %d: %w", req.Symbol, req.Interval, i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// GetSystemStatus returns the exchange maintenance status.
func (c *Client) GetSystemStatus(ctx context.Context) (*SystemStatusResponse, error) {
	var resp SystemStatusResponse
	if err := c.get(ctx, "/sapi/v1/system/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get system status: %w", err)
	}
	return &resp, nil
}

// IsMalformed reports whether err came from an undecodable response.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}
