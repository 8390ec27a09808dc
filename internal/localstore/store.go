// Package localstore is the device-local key/value persistence layer. Every
// collection engine owns one key; values are opaque strings (JSON in
// practice). The store is bounded by a byte quota so a runaway collection
// degrades instead of filling the disk.
//
// Only this package may open or query the local database.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrQuotaExceeded is returned by [Store.Set] when the write would push the
// store past its byte quota. Callers are expected to reclaim and retry.
var ErrQuotaExceeded = errors.New("local store quota exceeded")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT ''
);
`

// Store is the SQLite-backed key/value store.
type Store struct {
	db          *sql.DB
	quota       int64
	reclaimable []string
}

// Option configures a [Store].
type Option func(*Store)

// WithQuota bounds the total bytes of keys plus values. Zero disables the
// quota.
func WithQuota(bytes int64) Option {
	return func(s *Store) { s.quota = bytes }
}

// WithReclaimablePrefixes lists key prefixes whose entries are caches that
// [Store.Reclaim] may discard under quota pressure.
func WithReclaimablePrefixes(prefixes ...string) Option {
	return func(s *Store) { s.reclaimable = append([]string(nil), prefixes...) }
}

// DefaultPath returns the default path for the local database:
// ~/.local/share/watchsync/local.db
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "watchsync", "local.db"), nil
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating local store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key. found is false when the key is
// absent.
func (s *Store) Get(ctx context.Context, key string) (value string, found bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading key %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value. It returns
// [ErrQuotaExceeded] (wrapped) when the quota would be exceeded; the previous
// value is left untouched in that case.
func (s *Store) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning write of %q: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.quota > 0 {
		var used int64
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0)
			FROM kv WHERE key != ?`, key).Scan(&used)
		if err != nil {
			return fmt.Errorf("measuring usage for %q: %w", key, err)
		}
		need := int64(len(key) + len(value))
		if used+need > s.quota {
			return fmt.Errorf("writing %q (%d bytes, %d of %d used): %w", key, need, used, s.quota, ErrQuotaExceeded)
		}
	}

	const q = `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    value      = excluded.value,
		    updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, q, key, value, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %q: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// Reclaim discards every entry under a reclaimable prefix and returns how
// many entries were removed.
func (s *Store) Reclaim(ctx context.Context) (int64, error) {
	var total int64
	for _, prefix := range s.reclaimable {
		res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
		if err != nil {
			return total, fmt.Errorf("reclaiming prefix %q: %w", prefix, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// Usage returns the bytes currently counted against the quota.
func (s *Store) Usage(ctx context.Context) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM kv`).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("measuring usage: %w", err)
	}
	return used, nil
}

// Quota returns the configured byte quota (zero when unbounded).
func (s *Store) Quota() int64 {
	return s.quota
}
