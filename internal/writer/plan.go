package writer

import (
	"github.com/rickgao/ohlcv-ingest/internal/model"
)

// Plan is the set of storage actions for one page.
type Plan struct {
	Inserts    []model.Candlestick
	Updates    []model.Candlestick
	Duplicates int
	Violations []Violation
}

// Result converts the plan into a write result.
func (p Plan) Result() Result {
	r := Result{
		Inserted:   len(p.Inserts),
		Updated:    len(p.Updates),
		Duplicates: p.Duplicates,
		Violations: p.Violations,
	}
	for _, rows := range [][]model.Candlestick{p.Inserts, p.Updates} {
		for _, c := range rows {
			if c.Final && c.CloseTime > r.MaxFinalCloseTime {
				r.MaxFinalCloseTime = c.CloseTime
			}
		}
	}
	return r
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0
}

// PlanPage decides what to do with each incoming candle given the rows already stored
// for the same timestamps (keyed by open time). The incoming Final flag is taken as
// set by the fetcher; the write time plays no part. Repeated timestamps within the
// page keep the first occurrence.
func PlanPage(stored map[int64]model.Candlestick, incoming []model.Candlestick) Plan {
	var p Plan
	seen := make(map[int64]bool, len(incoming))

	for _, c := range incoming {
		if seen[c.OpenTime] {
			p.Duplicates++
			continue
		}
		seen[c.OpenTime] = true

		existing, ok := stored[c.OpenTime]
		switch {
		case !ok:
			p.Inserts = append(p.Inserts, c)
		case existing.Final:
			if existing.SameValues(c) {
				p.Duplicates++
			} else {
				p.Violations = append(p.Violations, Violation{Timestamp: c.Timestamp, Stored: existing, Incoming: c})
			}
		case existing.SameValues(c) && existing.Final == c.Final:
			p.Duplicates++
		default:
			p.Updates = append(p.Updates, c)
		}
	}
	return p
}
