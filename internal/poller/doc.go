// Package poller re-runs ingestion on a fixed schedule.
//
// The Poller:
//   - Runs the orchestrator immediately on start, then once per interval
//   - Never overlaps runs; a tick that arrives during a run is dropped
//   - Hands every run summary to an optional handler
//   - Cancels the in-progress run on Stop
package poller
