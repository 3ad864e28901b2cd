package db

import (
	"database/sql"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
	"github.com/stretchr/testify/require"

	"github.com/estatechain/indexer/internal/logger"
	"github.com/estatechain/indexer/pkg/config"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbConfig := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "indexer.db")}
	dbConfig.ApplyDefaults()

	sqlDB, err := NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)

	t.Cleanup(func() { sqlDB.Close() })

	return sqlDB
}

func TestNewSQLiteDBFromConfig(t *testing.T) {
	t.Parallel()

	dbConfig := config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "indexer.db"),
		JournalMode: "WAL",
		Synchronous: "NORMAL",
	}
	dbConfig.ApplyDefaults()

	sqlDB, err := NewSQLiteDBFromConfig(dbConfig)
	require.NoError(t, err)
	defer sqlDB.Close()

	var journalMode string
	require.NoError(t, sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Equal(t, "wal", journalMode)
}

func TestRunMigrationsDB(t *testing.T) {
	t.Parallel()

	migrations := []Migration{
		{
			ID: "001_shares",
			SQL: `
-- +migrate Down
DROP TABLE IF EXISTS shares;

-- +migrate Up
CREATE TABLE shares (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	holder TEXT NOT NULL,
	UNIQUE (holder)
);
`,
		},
		{
			ID: "002_shares_index",
			SQL: `
-- +migrate Down
DROP INDEX IF EXISTS idx_shares_holder;

-- +migrate Up
CREATE INDEX idx_shares_holder ON shares (holder);
`,
		},
	}

	sqlDB := newTestDB(t)
	log := logger.NewNopLogger()

	require.NoError(t, RunMigrationsDB(log, sqlDB, migrations))

	_, err := sqlDB.Exec(`INSERT INTO shares (holder) VALUES ('0xabc')`)
	require.NoError(t, err)

	// Re-running is a no-op.
	require.NoError(t, RunMigrationsDB(log, sqlDB, migrations))

	var count int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM shares`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestRunMigrationsDB_MissingSeparator(t *testing.T) {
	t.Parallel()

	sqlDB := newTestDB(t)

	err := RunMigrationsDB(logger.NewNopLogger(), sqlDB, []Migration{
		{ID: "001_broken", SQL: `CREATE TABLE broken (id INTEGER);`},
	})
	require.ErrorContains(t, err, "missing '-- +migrate Up' separator")
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	sqlDB := newTestDB(t)

	_, err := sqlDB.Exec(`
		CREATE TABLE raw (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash TEXT NOT NULL,
			log_index INTEGER NOT NULL,
			note TEXT,
			UNIQUE (tx_hash, log_index)
		)
	`)
	require.NoError(t, err)

	_, err = sqlDB.Exec(`INSERT INTO raw (tx_hash, log_index) VALUES ('0x1', 0)`)
	require.NoError(t, err)

	_, err = sqlDB.Exec(`INSERT INTO raw (tx_hash, log_index) VALUES ('0x1', 0)`)
	require.Error(t, err)
	require.True(t, IsUniqueViolation(err))

	// Wrapping must not hide the classification.
	require.True(t, IsUniqueViolation(fmt.Errorf("insert raw event: %w", err)))

	// Same transaction with a different log index is fine.
	_, err = sqlDB.Exec(`INSERT INTO raw (tx_hash, log_index) VALUES ('0x1', 1)`)
	require.NoError(t, err)

	// Other failures are not unique violations.
	_, err = sqlDB.Exec(`INSERT INTO raw (tx_hash) VALUES (NULL)`)
	require.Error(t, err)
	require.False(t, IsUniqueViolation(err))

	require.False(t, IsUniqueViolation(nil))
	require.False(t, IsUniqueViolation(sql.ErrNoRows))
}

type meddlerRow struct {
	ID        int64           `meddler:"id,pk"`
	TxHash    common.Hash     `meddler:"tx_hash,hash"`
	BlockHash *common.Hash    `meddler:"block_hash,hash"`
	Holder    common.Address  `meddler:"holder,address"`
	Seller    *common.Address `meddler:"seller,address"`
	Amount    *big.Int        `meddler:"amount,bigint"`
}

func TestMeddlerConverters_RoundTrip(t *testing.T) {
	t.Parallel()

	sqlDB := newTestDB(t)

	_, err := sqlDB.Exec(`
		CREATE TABLE meddler_rows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash TEXT NOT NULL,
			block_hash TEXT,
			holder TEXT NOT NULL,
			seller TEXT,
			amount TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	blockHash := common.HexToHash("0x02")
	seller := common.HexToAddress("0x281055Afc982d96fAB65b3a49cAc8b878184Cb16")

	// 2^128, too large for any SQLite integer column.
	amount, ok := new(big.Int).SetString("340282366920938463463374607431768211456", 10)
	require.True(t, ok)

	in := &meddlerRow{
		TxHash:    common.HexToHash("0x01"),
		BlockHash: &blockHash,
		Holder:    common.HexToAddress("0x4BBeEB066eD09B7AEd07bF39EEe0460DFa261520"),
		Seller:    &seller,
		Amount:    amount,
	}
	require.NoError(t, meddler.Insert(sqlDB, "meddler_rows", in))
	require.NotZero(t, in.ID)

	out := new(meddlerRow)
	require.NoError(t, meddler.QueryRow(sqlDB, out, `SELECT * FROM meddler_rows WHERE id = ?`, in.ID))

	require.Equal(t, in.TxHash, out.TxHash)
	require.Equal(t, in.BlockHash, out.BlockHash)
	require.Equal(t, in.Holder, out.Holder)
	require.Equal(t, in.Seller, out.Seller)
	require.Zero(t, out.Amount.Cmp(amount))
}

func TestMeddlerConverters_NullColumns(t *testing.T) {
	t.Parallel()

	sqlDB := newTestDB(t)

	_, err := sqlDB.Exec(`
		CREATE TABLE meddler_rows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash TEXT NOT NULL,
			block_hash TEXT,
			holder TEXT NOT NULL,
			seller TEXT,
			amount TEXT
		)
	`)
	require.NoError(t, err)

	in := &meddlerRow{
		TxHash: common.HexToHash("0x01"),
		Holder: common.HexToAddress("0x4BBeEB066eD09B7AEd07bF39EEe0460DFa261520"),
	}
	require.NoError(t, meddler.Insert(sqlDB, "meddler_rows", in))

	out := new(meddlerRow)
	require.NoError(t, meddler.QueryRow(sqlDB, out, `SELECT * FROM meddler_rows WHERE id = ?`, in.ID))

	require.Nil(t, out.BlockHash)
	require.Nil(t, out.Seller)
	require.NotNil(t, out.Amount)
	require.Zero(t, out.Amount.Sign())
}
