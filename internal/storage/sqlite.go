package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteKV is a file-backed KV store. A single kv table holds all logical
// records; WAL mode keeps writes durable across process crashes.
type SQLiteKV struct {
	conn     *sql.DB
	maxBytes int64 // 0 = unlimited
}

// SQLiteOptions configures Open.
type SQLiteOptions struct {
	// MaxBytes caps total stored value bytes. Writes that would exceed it
	// fail with ErrQuotaExceeded.
	MaxBytes int64
}

// OpenSQLite opens (creating if needed) the KV database at path.
func OpenSQLite(path string, opts SQLiteOptions) (*SQLiteKV, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			byte_len INTEGER NOT NULL,
			updated_at REAL NOT NULL
		)
	`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate kv schema: %w", err)
	}
	return &SQLiteKV{conn: conn, maxBytes: opts.MaxBytes}, nil
}

// Get returns the value at key, or ErrNotFound.
func (s *SQLiteKV) Get(key string) ([]byte, error) {
	var v []byte
	err := s.conn.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %s: %w", key, err)
	}
	return v, nil
}

// Put upserts key. Enforces the byte quota before writing.
func (s *SQLiteKV) Put(key string, value []byte) error {
	if s.maxBytes > 0 {
		var total, existing int64
		if err := s.conn.QueryRow(`SELECT COALESCE(SUM(byte_len), 0) FROM kv`).Scan(&total); err != nil {
			return fmt.Errorf("kv quota check: %w", err)
		}
		_ = s.conn.QueryRow(`SELECT byte_len FROM kv WHERE key = ?`, key).Scan(&existing)
		if total-existing+int64(len(value)) > s.maxBytes {
			return fmt.Errorf("kv put %s (%d bytes): %w", key, len(value), ErrQuotaExceeded)
		}
	}
	now := float64(time.Now().UnixNano()) / 1e9
	_, err := s.conn.Exec(`
		INSERT INTO kv (key, value, byte_len, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			byte_len = excluded.byte_len, updated_at = excluded.updated_at
	`, key, value, len(value), now)
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteKV) Delete(key string) error {
	if _, err := s.conn.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// List returns keys under prefix in lexical order.
func (s *SQLiteKV) List(prefix string) ([]string, error) {
	rows, err := s.conn.Query(`SELECT key FROM kv WHERE key LIKE ? || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv list %s: %w", prefix, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteKV) Close() error {
	return s.conn.Close()
}
