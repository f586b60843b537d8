package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

var key = model.PairKey{Source: "Binance", Symbol: "LINKUSDT", Interval: "1m"}

func TestObservePage(t *testing.T) {
	m := New()
	m.ObservePage(key, 1000, 1, 0)
	m.ObservePage(key, 40, 0, 2)

	labels := pairValues(key)
	if got := testutil.ToFloat64(m.rowsWritten.WithLabelValues(labels...)); got != 1040 {
		t.Errorf("rows_written = %v, want 1040", got)
	}
	if got := testutil.ToFloat64(m.pages.WithLabelValues(labels...)); got != 2 {
		t.Errorf("pages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.rejected.WithLabelValues(labels...)); got != 2 {
		t.Errorf("rejected = %v, want 2", got)
	}
}

func TestObserveCheckpoint(t *testing.T) {
	m := New()
	ts := time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)
	m.ObserveCheckpoint(key, ts.UnixMilli())

	if got := testutil.ToFloat64(m.checkpoint.WithLabelValues(pairValues(key)...)); got != float64(ts.Unix()) {
		t.Errorf("checkpoint = %v, want %v", got, ts.Unix())
	}
}

func TestRetryKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{model.ErrRateLimited, RetryRateLimited},
		{fmt.Errorf("wrapped: %w", model.ErrTransientFetch), RetryTransientFetch},
		{model.ErrTransientWrite, RetryTransientWrite},
		{model.ErrPermanentFetch, RetryOther},
	}
	for _, tt := range tests {
		if got := RetryKind(tt.err); got != tt.want {
			t.Errorf("RetryKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRetry(model.ErrRateLimited)
	m.ObservePairResult("caught_up")
	m.ObserveRun(3*time.Second, time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`ohlcv_ingest_retries_total{kind="rate_limited"} 1`,
		`ohlcv_ingest_pair_results_total{state="caught_up"} 1`,
		"ohlcv_ingest_run_duration_seconds_count 1",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
