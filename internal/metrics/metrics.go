// Package metrics declares the Prometheus collectors of the service.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/intake/internal/store"
)

// Label values.
const (
	Ok        = "ok"
	Fail      = "fail"
	Malformed = "malformed"
)

// Collectors for database workers and the supervisor.
var (
	QueryDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "database_query_duration_seconds",
		Help: "Duration of database queries in seconds.",
		Buckets: []float64{
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		},
	}, []string{"query", "worker"})
	QueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "database_queries_total",
		Help: "Cumulative number of database queries.",
	}, []string{"query", "worker"})
	WorkerFaultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "database_worker_faults_total",
		Help: "Cumulative number of worker faults followed by a respawn.",
	}, []string{"worker"})
	QueuedWorkGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "database_queued_work",
		Help: "Work items waiting for an idle worker.",
	}, []string{"priority", "mode"})
)

// Collectors for submission ingestion.
var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submissions_total",
		Help: "Cumulative number of submissions by outcome.",
	}, []string{"outcome"})
	SubmissionItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "submission_items_total",
		Help: "Cumulative number of submitted devices and entities by outcome.",
	}, []string{"kind", "outcome"})
)

// QueryObserver records statement timings into QueryDurationSeconds and
// QueriesTotal. It satisfies store.Observer.
type QueryObserver struct{}

// ObserveQuery implements store.Observer.
func (QueryObserver) ObserveQuery(query, worker string, elapsed time.Duration) {
	QueryDurationSeconds.WithLabelValues(query, worker).Observe(elapsed.Seconds())
	QueriesTotal.WithLabelValues(query, worker).Inc()
}

// RegisterFilesystem registers gauges reporting the capacity of the
// filesystem holding db. In-memory databases register nothing.
func RegisterFilesystem(reg prometheus.Registerer, db *store.Database) error {
	if db.Location() == "" {
		return nil
	}

	available := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "database_filesystem_available_total",
		Help: "Available bytes of the filesystem the database is located on.",
	}, func() float64 {
		stats, err := db.Filesystem()
		if err != nil {
			return 0
		}
		return float64(stats.Available)
	})
	capacity := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "database_filesystem_capacity_total",
		Help: "Total bytes of the filesystem the database is located on.",
	}, func() float64 {
		stats, err := db.Filesystem()
		if err != nil {
			return 0
		}
		return float64(stats.Capacity)
	})

	return errors.Join(reg.Register(available), reg.Register(capacity))
}
