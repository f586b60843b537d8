package ingest

import (
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// State is the ingestion state of one pair within a run.
type State string

const (
	StateIdle      State = "idle"
	StateResuming  State = "resuming"
	StateFetching  State = "fetching"
	StateWriting   State = "writing"
	StateCaughtUp  State = "caught_up"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state ends the pair's run.
func (s State) Terminal() bool {
	return s == StateCaughtUp || s == StateFailed || s == StateCancelled
}

// PairResult is the outcome of one pair in a run.
type PairResult struct {
	Pair  model.TradingPair
	State State
	Err   error

	Resumed    bool  // A checkpoint existed when the pair started
	From       int64 // Exclusive start of the first fetch (ms)
	Pages      int
	Inserted   int
	Updated    int
	Duplicates int // Already stored, including overlap dropped by the fetcher
	Rejected   int // Integrity violations

	// LastCloseTime is the resume point after the run (ms), 0 if nothing is stored.
	LastCloseTime int64

	Duration time.Duration
}

// RowsWritten returns the number of rows inserted or updated.
func (r PairResult) RowsWritten() int {
	return r.Inserted + r.Updated
}

// Summary is the outcome of one run.
type Summary struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Cancelled bool
	Pairs     []PairResult // In configuration order
}

// Duration returns the run's wall time.
func (s *Summary) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// Count returns the number of pairs that ended in state.
func (s *Summary) Count(state State) int {
	n := 0
	for _, p := range s.Pairs {
		if p.State == state {
			n++
		}
	}
	return n
}

// RowsWritten returns the total rows inserted or updated across all pairs.
func (s *Summary) RowsWritten() int {
	n := 0
	for _, p := range s.Pairs {
		n += p.RowsWritten()
	}
	return n
}

// Exit codes.
const (
	ExitOK        = 0
	ExitFailed    = 1
	ExitCancelled = 2
)

// ExitCode returns 1 if any pair failed, 2 if the run was cancelled with pairs left
// unfinished, and 0 otherwise. Caught-up pairs count as success even with no new rows.
func (s *Summary) ExitCode() int {
	if s.Count(StateFailed) > 0 {
		return ExitFailed
	}
	if s.Count(StateCancelled) > 0 {
		return ExitCancelled
	}
	return ExitOK
}
