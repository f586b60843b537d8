// Package model defines the shared data types of the OHLCV ingestion pipeline.
//
// Conventions:
//   - Prices and volumes: shopspring decimal, rounded to 8 fractional digits (NUMERIC(18,8))
//   - open_time / close_time: int64 milliseconds since Unix epoch, as reported by the exchange
//   - Timestamp: the candle open time as a UTC time.Time, the canonical ordering key
//   - A series is identified by PairKey (source, symbol, interval)
package model
