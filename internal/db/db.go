// Package db opens the backend's sqlite database and applies the embedded
// schema migrations.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"

	// Registers the sqlite3 driver with database/sql.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at path and verifies the connection.
func InitDB(path string) (*sql.DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; the queue is small and sqlite serializes
	// writes anyway.
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// RunMigrations applies every pending migration found under "migrations" in
// migrationsFS.
func RunMigrations(database *sql.DB, migrationsFS fs.FS, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	source, err := httpfs.New(http.FS(migrationsFS), "migrations")
	if err != nil {
		return fmt.Errorf("could not create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(database, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create sqlite3 migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("httpfs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	logger.Info("applying database migrations")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("an error occurred while applying migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	logger.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}
