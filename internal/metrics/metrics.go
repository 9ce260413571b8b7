// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal        *prometheus.CounterVec
	softBlocksTotal     *prometheus.CounterVec
	backoffDelaySeconds *prometheus.HistogramVec
	dedupOutcomesTotal  *prometheus.CounterVec
	telemetryTotal      *prometheus.CounterVec
	batchRowsProcessed  *prometheus.CounterVec
	headlessEscalations prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_fetches_total",
				Help: "Total fetches, labeled by source and signal.",
			},
			[]string{"source", "signal"},
		)

		softBlocksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_soft_blocks_total",
				Help: "Soft-block signals observed, labeled by source.",
			},
			[]string{"source"},
		)

		backoffDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "newsingest_backoff_delay_seconds",
				Help:    "Histogram of per-source inter-request delays.",
				Buckets: []float64{1, 5, 30, 60, 300, 900, 3600},
			},
			[]string{"source"},
		)

		dedupOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_dedup_outcomes_total",
				Help: "Content insert outcomes, labeled created or skipped_duplicate.",
			},
			[]string{"outcome"},
		)

		telemetryTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_telemetry_total",
				Help: "Telemetry write outcomes: recorded, resynced, dropped.",
			},
			[]string{"outcome"},
		)

		batchRowsProcessed = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "newsingest_batch_rows_total",
				Help: "Rows processed per stage, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		)

		headlessEscalations = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "newsingest_headless_escalations_total",
				Help: "Probe fetches promoted to a headless rendering pass.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch counts one fetch outcome for a source.
func ObserveFetch(source, signal string) {
	fetchesTotal.WithLabelValues(source, signal).Inc()
	if signal == "soft_block" {
		softBlocksTotal.WithLabelValues(source).Inc()
	}
}

// ObserveBackoffDelay records the delay handed to a source worker.
func ObserveBackoffDelay(source string, delay time.Duration) {
	backoffDelaySeconds.WithLabelValues(source).Observe(delay.Seconds())
}

// ObserveDedup counts a gatekeeper outcome.
func ObserveDedup(outcome string) {
	dedupOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveTelemetry counts a telemetry write outcome.
func ObserveTelemetry(outcome string) {
	telemetryTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatchRow counts one row processed by a stage.
func ObserveBatchRow(stage, result string) {
	batchRowsProcessed.WithLabelValues(stage, result).Inc()
}

// ObserveHeadlessEscalation counts one promotion to headless rendering.
func ObserveHeadlessEscalation() {
	headlessEscalations.Inc()
}
