// internal/db/db.go
package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/unclebandit/outreach-backend/internal/config"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects with sqlx and verifies the connection.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// MustOpen is Open for main packages.
func MustOpen(cfg config.DatabaseConfig) *sqlx.DB {
	db, err := Open(cfg)
	if err != nil {
		panic(err)
	}
	return db
}

// MigrateUp applies every embedded migration. It reports the resulting version.
func MigrateUp(cfg config.DatabaseConfig) (uint, error) {
	return runMigrations(cfg, func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown reverts every embedded migration.
func MigrateDown(cfg config.DatabaseConfig) (uint, error) {
	return runMigrations(cfg, func(m *migrate.Migrate) error { return m.Down() })
}

func runMigrations(cfg config.DatabaseConfig, step func(m *migrate.Migrate) error) (uint, error) {
	// migrate closes the database it was handed, so it gets its own pool
	conn, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return 0, err
	}

	var driver database.Driver
	switch cfg.Driver {
	case "postgres":
		driver, err = postgres.WithInstance(conn, &postgres.Config{})
	case "sqlite3":
		driver, err = sqlite3.WithInstance(conn, &sqlite3.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		_ = conn.Close()
		return 0, fmt.Errorf("migrate driver: %w", err)
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		_ = conn.Close()
		return 0, fmt.Errorf("migrate source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, cfg.Driver, driver)
	if err != nil {
		_ = conn.Close()
		return 0, fmt.Errorf("migrate init: %w", err)
	}
	defer m.Close()

	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, err
	}

	version, _, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	return version, err
}
