package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryKV implements KV using sync.Map
type MemoryKV struct {
	data            sync.Map
	maxSize         int
	cleanupInterval time.Duration
	stopCh          chan struct{}
	closed          atomic.Bool
	closeOnce       sync.Once
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means never expires
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryKV creates a new in-memory store
func NewMemoryKV(maxSize int, cleanupInterval time.Duration) *MemoryKV {
	m := &MemoryKV{
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	go m.cleanupLoop()
	return m
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.closed.Load() {
		return nil, false, ErrClosed
	}
	val, ok := m.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(*memoryEntry)
	if entry.expired(time.Now()) {
		m.data.Delete(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	m.data.Store(key, &memoryEntry{
		value:     value,
		expiresAt: expiresAt,
	})
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.data.Delete(key)
	return nil
}

func (m *MemoryKV) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	result := make(map[string][]byte)
	now := time.Now()
	for _, key := range keys {
		val, ok := m.data.Load(key)
		if !ok {
			continue
		}
		entry := val.(*memoryEntry)
		if entry.expired(now) {
			m.data.Delete(key)
			continue
		}
		result[key] = entry.value
	}
	return result, nil
}

func (m *MemoryKV) SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if m.closed.Load() {
		return ErrClosed
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	for key, value := range items {
		m.data.Store(key, &memoryEntry{
			value:     value,
			expiresAt: expiresAt,
		})
	}
	return nil
}

func (m *MemoryKV) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.stopCh)
	})
	return nil
}

func (m *MemoryKV) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

func (m *MemoryKV) cleanup() {
	now := time.Now()
	var entries []struct {
		key       string
		expiresAt time.Time
	}

	// Remove expired entries and collect remaining
	m.data.Range(func(key, value interface{}) bool {
		k := key.(string)
		entry := value.(*memoryEntry)
		if entry.expired(now) {
			m.data.Delete(k)
		} else {
			entries = append(entries, struct {
				key       string
				expiresAt time.Time
			}{k, entry.expiresAt})
		}
		return true
	})

	// Enforce max size by removing the soonest-expiring entries.
	// Entries without expiry (read marks, baselines) are evicted last.
	if len(entries) > m.maxSize {
		sort.Slice(entries, func(i, j int) bool {
			iNever := entries[i].expiresAt.IsZero()
			jNever := entries[j].expiresAt.IsZero()
			if iNever != jNever {
				return jNever
			}
			return entries[i].expiresAt.Before(entries[j].expiresAt)
		})
		toRemove := len(entries) - m.maxSize
		for i := 0; i < toRemove; i++ {
			m.data.Delete(entries[i].key)
		}
	}
}
