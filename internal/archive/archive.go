// Package archive is the cold store behind the sliding window: events
// evicted from the hot window land here and remain fully queryable.
//
// Backed by SQLite with WAL mode. The archive is an external boundary
// from the resolver's point of view; every failure surfaces as
// ErrArchiveUnavailable so callers can retry.
package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema
const currentSchemaVersion = 1

// ErrArchiveUnavailable indicates a cold-store I/O failure. Resolution
// paths propagate it unchanged; callers may retry.
var ErrArchiveUnavailable = errors.New("archive unavailable")

// Store is the SQLite-backed cold archive.
type Store struct {
	db *sql.DB
}

// Open creates or opens an archive database at the given path.
// Applies required pragmas and migrations automatically; idempotent.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %v: %w", err, ErrArchiveUnavailable)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect archive: %v: %w", err, ErrArchiveUnavailable)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY on the archival path.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Count returns the number of archived events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %v: %w", err, ErrArchiveUnavailable)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %v: %w", pragma, err, ErrArchiveUnavailable)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %v: %w", err, ErrArchiveUnavailable)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %v: %w", err, ErrArchiveUnavailable)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %v: %w", err, ErrArchiveUnavailable)
		}
	}
	return nil
}
