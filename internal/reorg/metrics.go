package reorg

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reorgsDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estate_indexer_reorgs_detected_total",
			Help: "Total number of blockchain reorganizations detected",
		},
	)

	reorgDepthBlocks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "estate_indexer_reorg_depth_blocks",
			Help:    "Depth of blockchain reorganizations in blocks",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	reorgLastDetected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estate_indexer_reorg_last_detected_timestamp",
			Help: "Unix timestamp of last reorg detection",
		},
	)

	rollbacksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "estate_indexer_reorg_rollbacks_total",
			Help: "Total number of rollback recoveries performed",
		},
	)
)

// ReorgDetected records a detected reorg of the given depth in blocks.
func ReorgDetected(depth uint64) {
	reorgsDetected.Inc()
	reorgDepthBlocks.Observe(float64(depth))
	reorgLastDetected.Set(float64(time.Now().UTC().Unix()))
}

// RollbackCompleted records a finished rollback recovery.
func RollbackCompleted() {
	rollbacksCompleted.Inc()
}
