// Package metrics exposes Prometheus metrics for the snapshot store and the refresh worker
package metrics

import (
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/apperrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels of store operations
const (
	ResultOK         = "ok"
	ResultAbsent     = "absent"
	ResultValidation = "validation"
	ResultStorage    = "storage"
	ResultCancelled  = "cancelled"
)

var (
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstore_store_operations_total",
			Help: "Total number of snapshot store operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	StoreOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fxstore_store_operation_duration_seconds",
			Help:    "Snapshot store operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	LatestSavedAtSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxstore_latest_saved_at_timestamp",
			Help: "Unix timestamp of the latest saved snapshot per base code",
		},
		[]string{"base_code"},
	)

	ProviderFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstore_provider_fetches_total",
			Help: "Total number of rate provider fetches per base code and outcome",
		},
		[]string{"base_code", "outcome"},
	)
)

var (
	DBPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxstore_db_pool_total_conns",
			Help: "Total number of connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxstore_db_pool_idle_conns",
			Help: "Idle connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiredConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxstore_db_pool_acquired_conns",
			Help: "Currently acquired (in-use) connections per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiresTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxstore_db_pool_acquires",
			Help: "Cumulative number of connection acquires per driver",
		},
		[]string{"driver"},
	)
)

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxstore_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fxstore_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fxstore_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

// ResultOf maps an operation error to its result label
func ResultOf(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case apperrors.IsValidation(err):
		return ResultValidation
	case apperrors.IsCancelled(err):
		return ResultCancelled
	default:
		return ResultStorage
	}
}

// UpdateDBPoolMetrics records a snapshot of pool statistics. acquires is the
// pool's cumulative acquire count.
func UpdateDBPoolMetrics(driver string, total, idle, acquired float64, acquires int64) {
	DBPoolTotalConns.WithLabelValues(driver).Set(total)
	DBPoolIdleConns.WithLabelValues(driver).Set(idle)
	DBPoolAcquiredConns.WithLabelValues(driver).Set(acquired)
	DBPoolAcquiresTotal.WithLabelValues(driver).Set(float64(acquires))
}

// UpdateJobMetrics records the outcome of a scheduled job run
func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}

// RecordProviderFetch counts one provider call
func RecordProviderFetch(baseCode string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ProviderFetchesTotal.WithLabelValues(baseCode, outcome).Inc()
}
