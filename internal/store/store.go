// Package store is the SQLite persistence layer: stream match cache, managed
// channels, group configuration, run audit rows, and the compressed XMLTV
// documents. One Store wraps one database file with WAL journaling.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

type Store struct {
	db   *sql.DB
	path string
	log  logrus.FieldLogger
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// modernc's driver serializes writes per connection; a single connection
	// keeps BEGIN EXCLUSIVE semantics simple.
	db.SetMaxOpenConns(1)
	s := &Store{db: db, path: path, log: log}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for the backup utility.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Checkpoint forces a WAL checkpoint so the main file holds every committed
// write before a snapshot copy.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// NextGeneration increments and returns the run generation counter. The
// bump happens under BEGIN EXCLUSIVE so it is monotonic even with multiple
// processes pointed at the same file.
func (s *Store) NextGeneration(ctx context.Context) (int64, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, "BEGIN EXCLUSIVE"); err != nil {
		return 0, fmt.Errorf("begin exclusive: %w", err)
	}
	var gen int64
	err = conn.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM settings WHERE key = 'generation'`).Scan(&gen)
	if err == sql.ErrNoRows {
		gen = 0
		err = nil
	}
	if err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return 0, err
	}
	gen++
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES('generation', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprint(gen)); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return 0, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return 0, err
	}
	return gen, nil
}

// CurrentGeneration reads the counter without bumping it.
func (s *Store) CurrentGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM settings WHERE key = 'generation'`).Scan(&gen)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return gen, err
}

// utcNow returns the canonical stored timestamp string.
func utcNow() string { return time.Now().UTC().Format(time.RFC3339) }

// parseTime reads a stored RFC3339 timestamp; zero time on empty.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// nullableTime maps a *time.Time to the stored representation.
func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func scanNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
