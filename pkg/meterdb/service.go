// Package meterdb is the collector's local state store: the per-channel
// watermarks that survive restarts, plus a spool of readings waiting for the
// sink to become reachable again. SQLite keeps it a single file under
// /var/lib; nothing else writes to it.
package meterdb

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/NotCoffee418/dbmigrator"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Store is an open state database.
type Store struct {
	db *sql.DB
}

// Open opens the state database at path, creating it if needed, and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}

	// Apply migrations
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		db,
		migrationFS,
		"migrations",
	)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
