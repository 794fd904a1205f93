package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteKV implements KV on a single SQLite file. Values with an expiry
// carry a unix timestamp in expires_at; zero means the entry is kept
// until deleted.
type SQLiteKV struct {
	db        *sql.DB
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewSQLiteKV opens (or creates) the database at dbPath.
func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The pure-Go driver serializes writes anyway; one connection avoids
	// SQLITE_BUSY churn between goroutines.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &SQLiteKV{
		db:     conn,
		stopCh: make(chan struct{}),
	}
	go s.janitorLoop()
	return s, nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}

	if expiresAt > 0 && expiresAt <= time.Now().Unix() {
		s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		return nil, false, nil
	}
	return value, true, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}

	query := `
		INSERT INTO kv (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key)
		DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`

	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *SQLiteKV) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(keys))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT key, value, expires_at FROM kv WHERE key IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get keys: %w", err)
	}
	defer rows.Close()

	now := time.Now().Unix()
	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		var expiresAt int64
		if err := rows.Scan(&key, &value, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if expiresAt > 0 && expiresAt <= now {
			continue
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

func (s *SQLiteKV) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}

	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO kv (key, value, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key)
		DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`

	for key, value := range items {
		if _, err := tx.ExecContext(ctx, query, key, value, expiresAt); err != nil {
			return fmt.Errorf("failed to set key %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteKV) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		err = s.db.Close()
	})
	return err
}

// janitorLoop purges expired rows so the file does not grow unbounded.
func (s *SQLiteKV) janitorLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.db.Exec("DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?", time.Now().Unix())
		}
	}
}
