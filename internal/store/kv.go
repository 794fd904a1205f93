// Package store provides the persistence layer: a small key-value
// interface with memory, Redis, and SQLite backends, plus the read-mark
// store built on top of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// KV abstracts the persistence backend. A ttl of zero or less means the
// entry never expires; read marks and follower baselines rely on that.
type KV interface {
	// Get retrieves a value. Returns (nil, false, nil) on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value.
	Delete(ctx context.Context, key string) error

	// GetMultiple retrieves multiple values at once. Missing keys are
	// absent from the result map.
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMultiple stores multiple values with the same TTL.
	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	// Close releases resources.
	Close() error
}

// Open selects the storage backend: Redis when redisURL is set (with
// fallback on connection failure), else SQLite when sqlitePath is set,
// else in-memory. The returned name identifies the backend for health
// and metrics reporting.
func Open(redisURL, sqlitePath string) (KV, string, error) {
	if redisURL != "" {
		kv, err := NewRedisKV(redisURL, "msgr:")
		if err == nil {
			slog.Info("redis store initialized")
			return kv, "redis", nil
		}
		slog.Warn("redis connection failed, falling back", "error", err)
	}
	if sqlitePath != "" {
		kv, err := NewSQLiteKV(sqlitePath)
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite store: %w", err)
		}
		slog.Info("sqlite store initialized", "path", sqlitePath)
		return kv, "sqlite", nil
	}
	slog.Info("initializing in-memory store")
	return NewMemoryKV(10000, 2*time.Minute), "memory", nil
}
