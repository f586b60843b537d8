package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/ohlcv-ingest/internal/model"
)

const namespace = "ohlcv_ingest"

// Retry kinds.
const (
	RetryRateLimited    = "rate_limited"
	RetryTransientFetch = "transient_fetch"
	RetryTransientWrite = "transient_write"
	RetryOther          = "other"
)

// Metrics holds the ingester's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rowsWritten *prometheus.CounterVec
	duplicates  *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	pages       *prometheus.CounterVec
	checkpoint  *prometheus.GaugeVec
	retries     *prometheus.CounterVec
	pairResults *prometheus.CounterVec
	runDuration prometheus.Histogram
	lastRun     prometheus.Gauge
}

// New creates and registers all collectors, including Go runtime and process collectors.
func New() *Metrics {
	pairLabels := []string{"source", "symbol", "interval"}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Candlesticks inserted or updated.",
		}, pairLabels),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Fetched candlesticks that were already stored.",
		}, pairLabels),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "Fetched candlesticks that would have changed a closed candle.",
		}, pairLabels),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_total",
			Help:      "Pages fetched and written.",
		}, pairLabels),
		checkpoint: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_seconds",
			Help:      "Close time of the last final candle stored, as a Unix timestamp.",
		}, pairLabels),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried operations by failure kind.",
		}, []string{"kind"}),
		pairResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_results_total",
			Help:      "Pairs finished per final state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of ingestion runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Completion time of the last ingestion run.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.rowsWritten, m.duplicates, m.rejected, m.pages, m.checkpoint,
		m.retries, m.pairResults, m.runDuration, m.lastRun,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func pairValues(key model.PairKey) []string {
	return []string{key.Source, key.Symbol, key.Interval.String()}
}

// ObservePage records one written page.
func (m *Metrics) ObservePage(key model.PairKey, written, duplicates, rejected int) {
	labels := pairValues(key)
	m.pages.WithLabelValues(labels...).Inc()
	m.rowsWritten.WithLabelValues(labels...).Add(float64(written))
	m.duplicates.WithLabelValues(labels...).Add(float64(duplicates))
	m.rejected.WithLabelValues(labels...).Add(float64(rejected))
}

// ObserveCheckpoint records the pair's resume point (ms since epoch).
func (m *Metrics) ObserveCheckpoint(key model.PairKey, closeTimeMs int64) {
	m.checkpoint.WithLabelValues(pairValues(key)...).Set(float64(closeTimeMs) / 1000)
}

// ObserveRetry records one retry, classified by the error kind.
func (m *Metrics) ObserveRetry(kind error) {
	m.retries.WithLabelValues(RetryKind(kind)).Inc()
}

// ObservePairResult records a pair's final state.
func (m *Metrics) ObservePairResult(state string) {
	m.pairResults.WithLabelValues(state).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(d time.Duration, finished time.Time) {
	m.runDuration.Observe(d.Seconds())
	m.lastRun.Set(float64(finished.Unix()))
}

// RetryKind maps an error kind to its label value.
func RetryKind(kind error) string {
	switch {
	case errors.Is(kind, model.ErrRateLimited):
		return RetryRateLimited
	case errors.Is(kind, model.ErrTransientFetch):
		return RetryTransientFetch
	case errors.Is(kind, model.ErrTransientWrite):
		return RetryTransientWrite
	default:
		return RetryOther
	}
}
