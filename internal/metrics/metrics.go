package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync progress metrics, labelled by contract name.
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "estate_indexer_last_processed_block",
			Help: "The last block number successfully processed per contract",
		},
		[]string{"contract"},
	)

	LastCheckpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "estate_indexer_last_checkpoint_block",
			Help: "The last checkpoint anchor block per contract",
		},
		[]string{"contract"},
	)

	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"contract"},
	)

	LogsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_logs_fetched_total",
			Help: "Total number of logs fetched from the chain",
		},
		[]string{"contract"},
	)

	EventsJournaled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_events_journaled_total",
			Help: "Total number of events recorded in the raw event journal",
		},
		[]string{"contract"},
	)

	EventsDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_events_duplicate_total",
			Help: "Total number of redelivered events skipped by the journal unique constraint",
		},
		[]string{"contract"},
	)

	EventsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_events_dead_lettered_total",
			Help: "Total number of undecodable logs recorded as decode failures",
		},
		[]string{"contract"},
	)

	BatchProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "estate_indexer_batch_processing_duration_seconds",
			Help:    "Time taken to process a batch of blocks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"contract"},
	)

	CycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_sync_cycle_errors_total",
			Help: "Total number of failed sync cycles",
		},
		[]string{"contract"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estate_indexer_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "estate_indexer_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "estate_indexer_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "estate_indexer_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "estate_indexer_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastProcessedBlockSet(contract string, blockNum uint64) {
	LastProcessedBlock.WithLabelValues(contract).Set(float64(blockNum))
}

func LastCheckpointBlockSet(contract string, blockNum uint64) {
	LastCheckpointBlock.WithLabelValues(contract).Set(float64(blockNum))
}

func BlocksProcessedAdd(contract string, count uint64) {
	BlocksProcessed.WithLabelValues(contract).Add(float64(count))
}

func LogsFetchedAdd(contract string, count int) {
	LogsFetched.WithLabelValues(contract).Add(float64(count))
}

func EventsJournaledAdd(contract string, count int) {
	EventsJournaled.WithLabelValues(contract).Add(float64(count))
}

func EventsDuplicateAdd(contract string, count int) {
	EventsDuplicate.WithLabelValues(contract).Add(float64(count))
}

func EventsDeadLetteredAdd(contract string, count int) {
	EventsDeadLettered.WithLabelValues(contract).Add(float64(count))
}

func BatchProcessingTimeLog(contract string, duration time.Duration) {
	BatchProcessingTime.WithLabelValues(contract).Observe(duration.Seconds())
}

func CycleErrorInc(contract string) {
	CycleErrors.WithLabelValues(contract).Inc()
}

func ErrorInc(component string, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
