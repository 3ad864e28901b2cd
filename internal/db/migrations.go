package db

import (
	"database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/estatechain/indexer/internal/logger"
)

const upDownSeparator = "-- +migrate Up"

// Migration is a single schema migration, identified by a stable ID and
// carrying both directions in one SQL blob. The down section comes first,
// the up section follows the "-- +migrate Up" marker.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations opens the database at the given path and applies all
// pending migrations to it.
func RunMigrations(dbPath string, migrations []Migration) error {
	db, err := NewSQLiteDB(dbPath)
	if err != nil {
		return fmt.Errorf("error creating DB %w", err)
	}
	defer db.Close()

	return RunMigrationsDB(logger.GetDefaultLogger(), db, migrations)
}

// RunMigrationsDB applies all pending migrations to an already open database.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrations []Migration) error {
	migs := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	for _, m := range migrations {
		up, down, err := splitMigration(m)
		if err != nil {
			return err
		}

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{up},
			Down: []string{down},
		})
	}

	var ids strings.Builder
	for _, m := range migs.Migrations {
		ids.WriteString(m.Id + ", ")
	}

	log.Debugf("running %d migrations: %s", len(migs.Migrations), ids.String())

	applied, err := migrate.Exec(db, "sqlite3", migs, migrate.Up)
	if err != nil {
		return fmt.Errorf("error executing migrations %s err: %w", ids.String(), err)
	}

	if applied > 0 {
		log.Infof("successfully applied %d migrations", applied)
	}

	return nil
}

func splitMigration(m Migration) (up, down string, err error) {
	parts := strings.Split(m.SQL, upDownSeparator)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("migration %s missing '-- +migrate Up' separator", m.ID)
	}

	downSQL := parts[0]
	downMarker := "-- +migrate Down"
	if idx := strings.Index(downSQL, downMarker); idx != -1 {
		downSQL = downSQL[idx+len(downMarker):]
	}

	return strings.TrimSpace(parts[1]), strings.TrimSpace(downSQL), nil
}
