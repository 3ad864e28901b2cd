package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estatechain/indexer/internal/common"
	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/pkg/config"
)

func newMaintenanceTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "indexer.db")

	dbConfig := config.DatabaseConfig{Path: dbPath, JournalMode: "WAL"}
	dbConfig.ApplyDefaults()

	sqlDB, err := NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)

	_, err = sqlDB.Exec(`CREATE TABLE events (id INTEGER PRIMARY KEY AUTOINCREMENT, payload TEXT)`)
	require.NoError(t, err)

	t.Cleanup(func() { sqlDB.Close() })

	return sqlDB, dbPath
}

func maintenanceTestConfig() *config.MaintenanceConfig {
	cfg := &config.MaintenanceConfig{
		Enabled:           true,
		Interval:          common.NewDuration(time.Minute),
		WALCheckpointMode: "TRUNCATE",
	}
	cfg.ApplyDefaults()

	return cfg
}

func TestNewMaintenance_NoOpWhenAbsent(t *testing.T) {
	t.Parallel()

	sqlDB, dbPath := newMaintenanceTestDB(t)
	log := logger.NewNopLogger()

	m := NewMaintenance(dbPath, sqlDB, nil, log)
	require.IsType(t, &NoOpMaintenance{}, m)

	disabled := maintenanceTestConfig()
	disabled.Enabled = false
	m = NewMaintenance(dbPath, sqlDB, disabled, log)
	require.IsType(t, &NoOpMaintenance{}, m)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.RunMaintenance(context.Background()))
	m.AcquireOperationLock()()
	require.NoError(t, m.Stop())
}

func TestMaintenanceCoordinator_RunMaintenance(t *testing.T) {
	t.Parallel()

	sqlDB, dbPath := newMaintenanceTestDB(t)

	for i := 0; i < 2000; i++ {
		_, err := sqlDB.Exec(`INSERT INTO events (payload) VALUES (?)`, "share transfer payload")
		require.NoError(t, err)
	}

	walInfo, err := os.Stat(dbPath + "-wal")
	require.NoError(t, err)
	require.Greater(t, walInfo.Size(), int64(0))

	sizeBefore, err := totalSize(dbPath)
	require.NoError(t, err)

	// Deleting rows leaves free pages behind for VACUUM to reclaim.
	_, err = sqlDB.Exec(`DELETE FROM events`)
	require.NoError(t, err)

	m := NewMaintenance(dbPath, sqlDB, maintenanceTestConfig(), logger.NewNopLogger())
	require.NoError(t, m.RunMaintenance(context.Background()))

	sizeAfter, err := totalSize(dbPath)
	require.NoError(t, err)
	require.LessOrEqual(t, sizeAfter, sizeBefore)
}

func TestMaintenanceCoordinator_OperationLock(t *testing.T) {
	t.Parallel()

	sqlDB, dbPath := newMaintenanceTestDB(t)

	m := NewMaintenance(dbPath, sqlDB, maintenanceTestConfig(), logger.NewNopLogger())

	// Shared acquisitions do not block each other.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := m.AcquireOperationLock()
			time.Sleep(5 * time.Millisecond)
			unlock()
		}()
	}
	wg.Wait()
}

func TestMaintenanceCoordinator_WaitsForOperations(t *testing.T) {
	t.Parallel()

	sqlDB, dbPath := newMaintenanceTestDB(t)

	m := NewMaintenance(dbPath, sqlDB, maintenanceTestConfig(), logger.NewNopLogger())

	unlock := m.AcquireOperationLock()

	done := make(chan error, 1)
	go func() {
		done <- m.RunMaintenance(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("maintenance ran while an operation held the lock")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance did not run after the operation released the lock")
	}
}

func TestMaintenanceCoordinator_StartStop(t *testing.T) {
	t.Parallel()

	sqlDB, dbPath := newMaintenanceTestDB(t)

	cfg := maintenanceTestConfig()
	cfg.Interval = common.NewDuration(10 * time.Millisecond)
	cfg.VacuumOnStartup = true

	m := NewMaintenance(dbPath, sqlDB, cfg, logger.NewNopLogger())

	require.NoError(t, m.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, m.Stop())

	// Stop is idempotent.
	require.NoError(t, m.Stop())
}
