// Package metrics declares the Prometheus collectors of the pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "pipeline"

	MetricStageStarted     = "stage_started_total"
	MetricStageEnded       = "stage_ended_total"
	MetricStageFailed      = "stage_failed_total"
	MetricStageDuration    = "stage_duration_seconds"
	MetricLockAttempts     = "lock_attempts_total"
	MetricIdleIterations   = "idle_iterations_total"
	MetricIndexedRows      = "indexed_rows_total"
	MetricExtensionCalls   = "extension_calls_total"
	MetricCacheLookups     = "tile_cache_lookups_total"
	MetricCacheWriteErrors = "tile_cache_write_errors_total"
	MetricCacheEvictions   = "tile_cache_evictions_total"
	MetricEventsEmitted    = "events_emitted_total"
)

var CounterStageStarted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricStageStarted,
		Help:      "Stage runs started on a dataset.",
	},
	[]string{"stage"},
)

var CounterStageEnded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricStageEnded,
		Help:      "Stage runs that completed and persisted their result.",
	},
	[]string{"stage"},
)

var CounterStageFailed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricStageFailed,
		Help:      "Stage runs that failed, by whether the failure was fatal for the dataset.",
	},
	[]string{"stage", "fatal"},
)

var HistogramStageDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      MetricStageDuration,
		Help:      "Duration of stage runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	},
	[]string{"stage"},
)

var CounterLockAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricLockAttempts,
		Help:      "Lease acquisition attempts by result (acquired, conflict, error).",
	},
	[]string{"stage", "result"},
)

var CounterIdleIterations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricIdleIterations,
		Help:      "Poller iterations that found no dataset to work on.",
	},
	[]string{"stage"},
)

var CounterIndexedRows = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricIndexedRows,
		Help:      "Rows written to index generations.",
	},
)

var CounterExtensionCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricExtensionCalls,
		Help:      "Remote service batch calls by result.",
	},
	[]string{"service", "result"},
)

var CounterCacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricCacheLookups,
		Help:      "Tile cache lookups by result (hit, miss).",
	},
	[]string{"result"},
)

var CounterCacheWriteErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricCacheWriteErrors,
		Help:      "Failed background writes to the tile cache.",
	},
)

var CounterCacheEvictions = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricCacheEvictions,
		Help:      "Tile cache entries evicted to stay under the size limit.",
	},
)

var CounterEventsEmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      MetricEventsEmitted,
		Help:      "Lifecycle events by sink and result.",
	},
	[]string{"sink", "result"},
)

func init() {
	prometheus.MustRegister(CounterStageStarted)
	prometheus.MustRegister(CounterStageEnded)
	prometheus.MustRegister(CounterStageFailed)
	prometheus.MustRegister(HistogramStageDuration)
	prometheus.MustRegister(CounterLockAttempts)
	prometheus.MustRegister(CounterIdleIterations)
	prometheus.MustRegister(CounterIndexedRows)
	prometheus.MustRegister(CounterExtensionCalls)
	prometheus.MustRegister(CounterCacheLookups)
	prometheus.MustRegister(CounterCacheWriteErrors)
	prometheus.MustRegister(CounterCacheEvictions)
	prometheus.MustRegister(CounterEventsEmitted)
}
