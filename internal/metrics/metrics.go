// Package metrics provides Prometheus metrics for the ingestor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ingestor.
type Metrics struct {
	// File outcome metrics
	FilesClaimed   *prometheus.CounterVec
	FilesCompleted *prometheus.CounterVec
	FilesFailed    *prometheus.CounterVec
	FilesSkipped   *prometheus.CounterVec

	// Record metrics
	RecordsInserted *prometheus.CounterVec

	// Cycle metrics
	CyclesTotal       prometheus.Counter
	CyclesAborted     prometheus.Counter
	CycleDuration     prometheus.Histogram
	LastCycleUnixtime prometheus.Gauge

	// Timing metrics
	FileProcessDuration *prometheus.HistogramVec

	// Error metrics
	SourceErrors  *prometheus.CounterVec
	CatalogErrors *prometheus.CounterVec
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clearinghouse"
	}

	m := &Metrics{
		FilesClaimed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_claimed_total",
				Help:      "Total number of files claimed for processing",
			},
			[]string{"bucket"},
		),
		FilesCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_completed_total",
				Help:      "Total number of files processed to terminal success",
			},
			[]string{"bucket"},
		),
		FilesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_failed_total",
				Help:      "Total number of files processed to terminal failure",
			},
			[]string{"bucket"},
		),
		FilesSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "Total number of files skipped because they were already claimed",
			},
			[]string{"bucket"},
		),
		RecordsInserted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_inserted_total",
				Help:      "Total number of parsed records written to the record store",
			},
			[]string{"bucket"},
		),
		CyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Total number of poll cycles run",
			},
		),
		CyclesAborted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_aborted_total",
				Help:      "Total number of poll cycles aborted by infrastructure errors",
			},
		),
		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Time to run one full poll cycle",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
			},
		),
		LastCycleUnixtime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_cycle_unixtime",
				Help:      "Unix time of the last completed poll cycle",
			},
		),
		FileProcessDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_process_duration_seconds",
				Help:      "Time to process one file from fetch to terminal state",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
			},
			[]string{"bucket"},
		),
		SourceErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_errors_total",
				Help:      "Total number of object store errors",
			},
			[]string{"bucket"},
		),
		CatalogErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "catalog_errors_total",
				Help:      "Total number of relational store errors",
			},
			[]string{"bucket"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}
