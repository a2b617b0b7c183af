// Package db persists compiled jobs and their emitted frame streams in
// SQLite. The schema is managed by golang-migrate with the migration files
// embedded in the binary; frame records are stored as packed chunks in the
// wire format produced by the opal package.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// Open opens (or creates) the job database at path and applies the
// connection pragmas. The schema itself is managed by MigrateUp.
func Open(path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	_, err = sdb.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA synchronous = NORMAL;
		PRAGMA temp_store = MEMORY;
	`)
	if err != nil {
		sdb.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	return &DB{sdb}, nil
}
