// Package filestore keeps candlesticks in a per-pair file tree on an afero.Fs.
//
// Layout:
//
//	<root>/<source>/<SYMBOL>_<interval>/pair.json
//	<root>/<source>/<SYMBOL>_<interval>/<YYYY-MM>.jsonl
//
// Each partition file holds one JSON object per candle, ordered by open time. A write
// replaces every affected partition through a temporary file and a rename, oldest
// partition first, so after a crash the stored rows are always a prefix of the page
// and the derived checkpoint stays correct.
//
// Store implements checkpoint.Store and writer.Writer with the same semantics as the
// TimescaleDB backend.
package filestore
