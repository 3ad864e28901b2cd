package db

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	maintenanceRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estate_indexer_db_maintenance_runs_total",
			Help: "Total number of database maintenance operations",
		},
	)

	maintenanceOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_db_maintenance_outcomes_total",
			Help: "Total number of database maintenance operations by outcome",
		},
		[]string{"status"},
	)

	maintenanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "estate_indexer_db_maintenance_duration_seconds",
			Help:    "Duration of database maintenance operations",
			Buckets: prometheus.DefBuckets,
		},
	)

	walCheckpoints = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_db_wal_checkpoint_total",
			Help: "Total number of WAL checkpoint operations",
		},
		[]string{"mode"},
	)

	vacuumRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estate_indexer_db_vacuum_total",
			Help: "Total number of VACUUM operations",
		},
	)

	spaceReclaimed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estate_indexer_db_space_reclaimed_bytes",
			Help: "Bytes reclaimed by the last maintenance operation",
		},
	)

	dbSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estate_indexer_db_size_bytes",
			Help: "Total size of the database files in bytes",
		},
	)
)

func MaintenanceRunsInc() {
	maintenanceRuns.Inc()
}

func MaintenanceSuccessInc() {
	maintenanceOutcomes.WithLabelValues("success").Inc()
}

func MaintenanceErrorInc() {
	maintenanceOutcomes.WithLabelValues("error").Inc()
}

func MaintenanceDurationLog(duration time.Duration) {
	maintenanceDuration.Observe(duration.Seconds())
}

func WALCheckpointInc(mode string) {
	walCheckpoints.WithLabelValues(mode).Inc()
}

func VacuumRunsInc() {
	vacuumRuns.Inc()
}

func SpaceReclaimedLog(bytes uint64) {
	spaceReclaimed.Set(float64(bytes))
}

func DBSizeLog(sizeBytes int64) {
	dbSize.Set(float64(sizeBytes))
}
