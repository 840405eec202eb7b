// Package sqlite provides a SQLite-backed implementation of the repository
// interfaces for single-binary deployments that don't want to run Postgres.
// It uses the pure-Go modernc.org/sqlite driver, so no cgo is involved.
package sqlite

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// RepositoryConfig holds shared dependencies for SQLite repositories
type RepositoryConfig struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// timeLayout is RFC 3339 with a fixed-width 9-digit fractional second.
// Timestamps are stored as TEXT, so the width must be constant for
// ORDER BY on the column to stay chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// Open opens (or creates) the database file and applies the connection
// pragmas the repositories rely on.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows a single writer, and the busy handler does not retry
	// deferred-to-write transaction upgrades. One connection sidesteps both.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	return db, nil
}
