// Package writer persists pages of candlesticks idempotently.
//
// A page is written as one unit: either every row of the page becomes visible or none
// does. Rows are keyed by (trading pair, open timestamp):
//   - a new timestamp is inserted
//   - a timestamp already stored as final (closed when written) is never changed; an
//     identical refetch counts as a duplicate, a differing one is an integrity violation
//   - a timestamp stored while its candle was still open may be overwritten
//
// Writers:
//   - TimescaleWriter (TimescaleDB hypertable, one transaction per page)
//   - filestore.Store (afero file tree, see package filestore)
//
// Retrying wraps any Writer with a per-attempt timeout and bounded backoff for
// transient storage failures.
package writer
