package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	sql *sql.DB
}

// QueryEntry is one cached server collection.
type QueryEntry struct {
	Key       string
	Body      []byte
	FetchedAt time.Time
	Stale     bool
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS query_cache (
			key        TEXT PRIMARY KEY,
			body       BLOB NOT NULL,
			fetched_at INTEGER NOT NULL,
			stale      INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("create query_cache: %w", err)
	}

	// Add invalidated_at to existing DBs; ignore "duplicate column" errors.
	if _, alterErr := d.sql.Exec(`ALTER TABLE query_cache ADD COLUMN invalidated_at INTEGER NOT NULL DEFAULT 0`); alterErr != nil {
		if !isDuplicateColumnError(alterErr) {
			return fmt.Errorf("alter query_cache add invalidated_at: %w", alterErr)
		}
	}
	return nil
}

// PutQuery stores a body for key fetched at fetchedAt. The request behind it
// started at since; an invalidation recorded after since keeps the row stale,
// so a mutation that lands mid-fetch is not masked by the older body.
func (d *DB) PutQuery(key string, body []byte, fetchedAt, since time.Time) error {
	_, err := d.sql.Exec(`
		INSERT INTO query_cache (key, body, fetched_at, stale) VALUES (?,?,?,0)
		ON CONFLICT(key) DO UPDATE SET
			body = excluded.body,
			fetched_at = excluded.fetched_at,
			stale = CASE WHEN query_cache.invalidated_at > ? THEN 1 ELSE 0 END`,
		key, body, fetchedAt.UnixMilli(), since.UnixNano(),
	)
	return err
}

func (d *DB) GetQuery(key string) (*QueryEntry, error) {
	var e QueryEntry
	var fetchedAt int64
	var stale int
	err := d.sql.QueryRow(`SELECT key, body, fetched_at, stale FROM query_cache WHERE key = ?`, key).
		Scan(&e.Key, &e.Body, &fetchedAt, &stale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.FetchedAt = time.UnixMilli(fetchedAt)
	e.Stale = stale == 1
	return &e, nil
}

// MarkStale flags the given keys. Unknown keys are ignored.
func (d *DB) MarkStale(at time.Time, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	args := make([]any, 0, len(keys)+1)
	args = append(args, at.UnixNano())
	for _, k := range keys {
		args = append(args, k)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	res, err := d.sql.Exec(
		fmt.Sprintf("UPDATE query_cache SET stale = 1, invalidated_at = ? WHERE key IN (%s)", placeholders),
		args...,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) MarkAllStale(at time.Time) (int64, error) {
	res, err := d.sql.Exec("UPDATE query_cache SET stale = 1, invalidated_at = ?", at.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *DB) ListQueries() ([]QueryEntry, error) {
	rows, err := d.sql.Query("SELECT key, body, fetched_at, stale FROM query_cache ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []QueryEntry
	for rows.Next() {
		var e QueryEntry
		var fetchedAt int64
		var stale int
		if err := rows.Scan(&e.Key, &e.Body, &fetchedAt, &stale); err != nil {
			return nil, err
		}
		e.FetchedAt = time.UnixMilli(fetchedAt)
		e.Stale = stale == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

const metaLastRefresh = "last_refresh"

func (d *DB) SetMeta(key, value string) error {
	_, err := d.sql.Exec(`
		INSERT INTO metadata (key, value) VALUES (?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetMeta returns "" for a key that was never set.
func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// StampRefresh records at as the time of the last successful refetch.
func (d *DB) StampRefresh(at time.Time) error {
	return d.SetMeta(metaLastRefresh, strconv.FormatInt(at.UnixMilli(), 10))
}

// LastRefresh is the zero time until StampRefresh has been called.
func (d *DB) LastRefresh() (time.Time, error) {
	v, err := d.GetMeta(metaLastRefresh)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", metaLastRefresh, err)
	}
	return time.UnixMilli(ms), nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
