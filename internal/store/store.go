// Package store owns the shared SQLite database. Every conductor process —
// the dashboard, one-shot commands, and agent wrappers inside tmux — opens
// the same file; WAL mode plus a busy timeout lets them write concurrently
// without any other coordination channel.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Open opens (creating if needed) the database at path and applies any
// pending migrations. Whichever process opens first wins the migration race;
// the rest see an up-to-date schema.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection per process keeps statement interleaving predictable;
	// cross-process concurrency is WAL's job.
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewID returns a ULID: lexicographically sortable by creation time and
// collision-free across processes without a central sequence.
func NewID() string {
	return ulid.Make().String()
}

// Now returns the canonical timestamp format used throughout the database.
// Nanosecond precision keeps "latest run" ordering stable even for rows
// created within the same second.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
