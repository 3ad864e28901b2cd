package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/estatechain/indexer/pkg/config"
)

// sqliteDSN builds the connection string. _txlock=immediate takes the write
// lock at BEGIN, so a batch transaction cannot hit SQLITE_BUSY after it has
// already applied part of its logs.
func sqliteDSN(path, journalMode string, foreignKeys bool, busyTimeoutMS int) string {
	fk := "off"
	if foreignKeys {
		fk = "on"
	}

	return fmt.Sprintf("file:%s?_txlock=immediate&_foreign_keys=%s&_journal_mode=%s&_busy_timeout=%d",
		path, fk, journalMode, busyTimeoutMS)
}

// NewSQLiteDB opens a SQLite database with the default options: WAL journal,
// foreign keys on, 30s busy timeout. The migration runner and tests use this
// form.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", sqliteDSN(dbPath, "WAL", true, 30000))
}

// NewSQLiteDBFromConfig opens a SQLite database with the configured journal
// mode, pool sizes and pragmas.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := sqliteDSN(cfg.Path, cfg.JournalMode, cfg.EnableForeignKeys, cfg.BusyTimeout)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return db, nil
}
