package sqlstore

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// Migrate applies the embedded schema migrations for the store's driver.
func (s *Store) Migrate() error {
	source, err := iofs.New(migrationFS, "migrations/"+s.driver)
	if err != nil {
		return fmt.Errorf("sqlstore: load migrations: %w", err)
	}

	var target database.Driver
	switch s.driver {
	case DriverPostgres:
		target, err = migratepg.WithInstance(s.db, &migratepg.Config{})
	case DriverSQLite:
		target, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", s.driver)
	}
	if err != nil {
		return fmt.Errorf("sqlstore: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, s.driver, target)
	if err != nil {
		return fmt.Errorf("sqlstore: create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlstore: run migrations: %w", err)
	}
	return nil
}
