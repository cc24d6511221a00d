package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	_ "github.com/glebarez/go-sqlite"
)

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string) (SQLiteCache, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return SQLiteCache{}, fmt.Errorf("opening %s: %w", filename, err)
	}
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			expires INTEGER,
			received_at INTEGER,
			bytes BLOB
		)`,
		"CREATE INDEX IF NOT EXISTS expires_idx ON cache (expires)",
		"PRAGMA journal_mode=WAL",
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return SQLiteCache{}, fmt.Errorf("initializing %s: %w", filename, err)
		}
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

// Close closes the underlying database.
func (s SQLiteCache) Close() error {
	return s.db.Close()
}

func (s SQLiteCache) All(prefix string) ([]CacheEntry, error) {
	entries := make([]CacheEntry, 0)
	rows, err := s.db.Query(`SELECT
		key, expires, received_at, bytes
		FROM cache WHERE substr(key, 1, ?) = ?`, prefixArgs(prefix)...)
	if err != nil {
		return entries, err
	}
	defer rows.Close()
	for rows.Next() {
		var entry CacheEntry
		var exp, rec int64
		if err := rows.Scan(&entry.Key, &exp, &rec, &entry.Bytes); err != nil {
			return entries, err
		}
		entry.Expires = fromNanos(exp)
		entry.ReceivedAt = fromNanos(rec)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s SQLiteCache) Put(ce CacheEntry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec(`INSERT OR REPLACE INTO cache
		(key, expires, received_at, bytes) VALUES (?, ?, ?, ?)`,
		ce.Key, toNanos(ce.Expires), toNanos(ce.ReceivedAt), ce.Bytes)
	return err
}

func (s SQLiteCache) Oldest(prefix string) (string, time.Time, error) {
	var key string
	var expires int64
	err := s.db.QueryRow(
		`SELECT key, expires FROM cache WHERE substr(key, 1, ?) = ? AND expires > 0 ORDER BY expires ASC LIMIT 1`,
		prefixArgs(prefix)...,
	).Scan(&key, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return key, fromNanos(expires), nil
}

func (s SQLiteCache) Purge(key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE key = ?", key)
	return err
}

// timestamps are stored as unix nanoseconds, 0 meaning the zero time
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// prefixArgs returns the arguments for a `substr(key, 1, ?) = ?` prefix match.
// LIKE is not used since it is case-insensitive in SQLite.
func prefixArgs(prefix string) []any {
	return []any{utf8.RuneCountInString(prefix), prefix}
}
