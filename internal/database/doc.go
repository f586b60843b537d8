// Package database provides the TimescaleDB connection pool and the trading pair catalog.
//
// Tables:
//   - sources: upstream providers, unique by name
//   - trading_pairs: (source, symbol, interval), unique; deleting cascades to candles
//   - candlesticks: hypertable on timestamp, space-partitioned by trading_pair_id
//
// Schema is managed by package migrations.
package database
