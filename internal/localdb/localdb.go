// Package localdb owns the local SQLite database used in local-first mode:
// the domain tables written while disconnected and the sync_queue journal of
// mutations not yet replicated to the remote store.
package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fabriksoft/fabrikd/migrations"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record does not exist locally.
	ErrNotFound = errors.New("record not found")

	// ErrInsufficientQuantity is returned when a warehouse adjustment would
	// drive the stored quantity below zero.
	ErrInsufficientQuantity = errors.New("insufficient quantity in warehouse")
)

// DB wraps the local SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) the local database at path, enables
// pragmas, and applies embedded migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &DB{db: db}, nil
}

func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
