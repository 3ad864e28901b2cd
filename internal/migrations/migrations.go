package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/estatechain/indexer/internal/db"
	"github.com/estatechain/indexer/internal/logger"
)

//go:embed 001_checkpoint_store_1.sql
var mig001 string

//go:embed 002_raw_event_store_1.sql
var mig002 string

//go:embed 003_derived_stores_1.sql
var mig003 string

func all() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_checkpoint_store_1.sql",
			SQL: mig001,
		},
		{
			ID:  "002_raw_event_store_1.sql",
			SQL: mig002,
		},
		{
			ID:  "003_derived_stores_1.sql",
			SQL: mig003,
		},
	}
}

// RunMigrations opens the database at dbPath and brings its schema up to date.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, all())
}

// RunMigrationsDB brings the schema of an already open database up to date.
func RunMigrationsDB(log *logger.Logger, sqlDB *sql.DB) error {
	return db.RunMigrationsDB(log, sqlDB, all())
}
