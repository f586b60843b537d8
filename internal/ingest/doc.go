// Package ingest drives incremental candlestick ingestion for a set of trading pairs.
//
// Each pair moves through its own state machine:
//
//	idle -> resuming -> fetching -> writing -> (fetching | caught_up | failed)
//
// plus cancelled when the run is stopped before the pair finished. Pages of one pair
// are fetched and written strictly in order: the next page is requested only after the
// previous page's write returned. Pairs are independent and run on a bounded worker
// pool; they share the upstream rate budget through the API client.
//
// On cancellation no new page is started, but a write already in flight is allowed to
// commit or roll back on its own.
package ingest
