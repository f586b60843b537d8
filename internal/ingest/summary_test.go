package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCaughtUp, StateFailed, StateCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateIdle, StateResuming, StateFetching, StateWriting} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestSummaryExitCode(t *testing.T) {
	tests := []struct {
		name   string
		states []State
		want   int
	}{
		{"all caught up", []State{StateCaughtUp, StateCaughtUp}, ExitOK},
		{"no pairs", nil, ExitOK},
		{"failure wins over cancel", []State{StateCancelled, StateFailed}, ExitFailed},
		{"cancelled", []State{StateCaughtUp, StateCancelled}, ExitCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Summary{}
			for _, st := range tt.states {
				s.Pairs = append(s.Pairs, PairResult{State: st, Inserted: 2, Updated: 1})
			}
			assert.Equal(t, tt.want, s.ExitCode())
			assert.Equal(t, 3*len(tt.states), s.RowsWritten())
		})
	}
}
