// Package metrics provides Prometheus metrics for monitoring ingestion.
//
// Key metrics:
//   - Rows written, duplicates and rejected candles per pair
//   - Pages fetched per pair and current checkpoint
//   - Retries by kind (rate limited, transient fetch, transient write)
//   - Final pair states and run duration
package metrics
