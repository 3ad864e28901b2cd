package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/pkg/config"
)

// Maintenance keeps a long-running indexer database healthy. Rollbacks after
// chain reorganizations delete rows, so the file fragments over time without
// periodic WAL checkpoints and VACUUM runs.
type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for completion.
	Stop() error
	// AcquireOperationLock acquires a shared lock for database operations.
	// The returned unlock function must be called when the operation completes.
	AcquireOperationLock() func()
	// RunMaintenance performs a single maintenance pass immediately.
	RunMaintenance(ctx context.Context) error
}

// NoOpMaintenance is used when maintenance is not configured.
type NoOpMaintenance struct{}

// Start is a no-op.
func (m *NoOpMaintenance) Start(ctx context.Context) error {
	return nil
}

// Stop is a no-op.
func (m *NoOpMaintenance) Stop() error {
	return nil
}

// RunMaintenance is a no-op.
func (m *NoOpMaintenance) RunMaintenance(ctx context.Context) error {
	return nil
}

// AcquireOperationLock returns an unlock function that does nothing.
func (m *NoOpMaintenance) AcquireOperationLock() func() {
	return func() {}
}

// MaintenanceCoordinator serializes maintenance against ordinary database
// work. Sync cycles hold the lock in read mode so they can run concurrently,
// while a maintenance pass takes it in write mode and waits them out.
type MaintenanceCoordinator struct {
	db     *sql.DB
	config config.MaintenanceConfig
	dbPath string
	log    *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMaintenance creates a maintenance coordinator, or a no-op one when the
// configuration section is absent.
func NewMaintenance(dbPath string, db *sql.DB, cfg *config.MaintenanceConfig, log *logger.Logger) Maintenance {
	if cfg == nil || !cfg.Enabled {
		return &NoOpMaintenance{}
	}

	return &MaintenanceCoordinator{
		db:     db,
		config: *cfg,
		dbPath: dbPath,
		log:    log.WithComponent(common.ComponentDB),
	}
}

// Start launches the background maintenance worker.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	if m.config.VacuumOnStartup {
		if err := m.RunMaintenance(ctx); err != nil {
			m.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	m.wg.Add(1)
	go m.worker(ctx, m.config.Interval.Duration)

	m.log.Infof("database maintenance started, interval %s, checkpoint mode %s",
		m.config.Interval.Duration, m.config.WALCheckpointMode)

	return nil
}

// Stop cancels the worker and waits for a running pass to finish.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	m.log.Info("database maintenance stopped")

	return nil
}

func (m *MaintenanceCoordinator) worker(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.RunMaintenance(ctx); err != nil {
				m.log.Warnf("periodic maintenance failed: %v", err)
			}
		}
	}
}

// RunMaintenance checkpoints the WAL and vacuums the database. It takes the
// operation lock exclusively, so in-flight sync work completes first and no
// new work starts until the pass is done.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now().UTC()
	MaintenanceRunsInc()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	sizeBefore, err := totalSize(m.dbPath)
	if err != nil {
		m.log.Debugf("could not determine database size: %v", err)
	}

	var maintenanceErr error

	if err := m.walCheckpoint(); err != nil {
		maintenanceErr = fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	if err := m.vacuum(); err != nil && maintenanceErr == nil {
		maintenanceErr = fmt.Errorf("vacuum failed: %w", err)
	}

	duration := time.Since(start)
	MaintenanceDurationLog(duration)

	if maintenanceErr != nil {
		MaintenanceErrorInc()
		m.log.Warnf("maintenance completed with errors in %s: %v", duration, maintenanceErr)
		return maintenanceErr
	}

	MaintenanceSuccessInc()

	sizeAfter, err := totalSize(m.dbPath)
	if err == nil {
		DBSizeLog(sizeAfter)
		if sizeBefore > sizeAfter {
			reclaimed := uint64(sizeBefore - sizeAfter)
			SpaceReclaimedLog(reclaimed)
			m.log.Infof("maintenance reclaimed %d MB in %s", common.BytesToMB(reclaimed), duration)
			return nil
		}
	}

	m.log.Infof("maintenance completed in %s", duration)

	return nil
}

func (m *MaintenanceCoordinator) walCheckpoint() error {
	var mode string
	if err := m.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		return fmt.Errorf("failed to check journal mode: %w", err)
	}

	if !strings.EqualFold(mode, "wal") {
		return nil
	}

	var busy, logFrames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.config.WALCheckpointMode)
	if err := m.db.QueryRow(query).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return fmt.Errorf("failed to execute WAL checkpoint: %w", err)
	}

	WALCheckpointInc(strings.ToLower(m.config.WALCheckpointMode))

	if busy > 0 {
		m.log.Warnf("WAL checkpoint left %d busy pages", busy)
	}

	return nil
}

func (m *MaintenanceCoordinator) vacuum() error {
	if _, err := m.db.Exec("VACUUM"); err != nil {
		return err
	}

	VacuumRunsInc()

	return nil
}

// AcquireOperationLock takes the operation lock in shared mode. Ordinary
// database work holds it for the duration of a transaction so a maintenance
// pass never interleaves with it.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// totalSize sums the sizes of the database file and its WAL and shared-memory
// siblings.
func totalSize(dbPath string) (int64, error) {
	var total int64

	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		total += info.Size()
	}

	return total, nil
}
