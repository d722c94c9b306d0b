package counter

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on a shared SQLite file. The single upsert
// statement makes increments atomic across processes; busy_timeout covers
// writer contention between instances.
type SQLiteStore struct {
	db        *sql.DB
	namespace string
}

// OpenSQLite opens (and initializes) the shared counter db. namespace
// prefixes every key written through this handle.
func OpenSQLite(path, namespace string) (*SQLiteStore, error) {
	if namespace == "" {
		return nil, fmt.Errorf("counter namespace is required")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open counter db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS counters (
			key   TEXT PRIMARY KEY,
			value INTEGER NOT NULL DEFAULT 0
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init counter db: %w", err)
	}
	return &SQLiteStore{db: db, namespace: namespace}, nil
}

func (s *SQLiteStore) key(name string) string {
	return s.namespace + ":" + name
}

// Incr atomically adds delta to the named counter, creating it at delta.
func (s *SQLiteStore) Incr(name string, delta int64) error {
	_, err := s.db.Exec(`
		INSERT INTO counters (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = value + excluded.value`,
		s.key(name), delta)
	return err
}

// Get returns the counter value, zero if never written.
func (s *SQLiteStore) Get(name string) (int64, error) {
	var v int64
	err := s.db.QueryRow(`SELECT value FROM counters WHERE key = ?`, s.key(name)).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

// All returns every counter under this namespace, keys stripped of the
// namespace prefix.
func (s *SQLiteStore) All() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT key, value FROM counters WHERE key LIKE ? ORDER BY key`,
		s.namespace+":%")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var k string
		var v int64
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[strings.TrimPrefix(k, s.namespace+":")] = v
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
