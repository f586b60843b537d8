package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rickgao/ohlcv-ingest/internal/ingest"
)

// writeSummary prints the per-pair outcome of a run.
func writeSummary(out io.Writer, s *ingest.Summary) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tSTATE\tWRITTEN\tDUPLICATES\tREJECTED\tCHECKPOINT\tERROR")
	for _, r := range s.Pairs {
		checkpoint := "-"
		if r.LastCloseTime > 0 {
			checkpoint = time.UnixMilli(r.LastCloseTime).UTC().Format(time.RFC3339)
		}
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.Pair.Key(), r.State, r.RowsWritten(), r.Duplicates, r.Rejected, checkpoint, errText)
	}
	tw.Flush()

	fmt.Fprintf(out, "run %s: %d caught up, %d failed, %d cancelled, %d rows written in %s\n",
		s.RunID,
		s.Count(ingest.StateCaughtUp),
		s.Count(ingest.StateFailed),
		s.Count(ingest.StateCancelled),
		s.RowsWritten(),
		s.Duration().Round(time.Millisecond),
	)
}
