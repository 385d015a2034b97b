package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 10000

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is a bounded in-process Store. Least recently used keys are
// evicted once capacity is reached. It serves single-instance deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	cache  *lru.Cache[string, memoryEntry]
	now    func() time.Time
	closed bool
}

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

// SetClock replaces the time source used for expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}

	e, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		m.cache.Remove(key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	e := memoryEntry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.cache.Add(key, e)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, k := range keys {
		m.cache.Remove(k)
	}
	return nil
}

func (m *MemoryStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	now := m.now()
	var keys []string
	for _, k := range m.cache.Keys() {
		e, ok := m.cache.Peek(k)
		if !ok || e.expired(now) {
			continue
		}
		match, err := doublestar.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("bad key pattern %q: %w", pattern, err)
		}
		if match {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Len returns the number of stored entries, expired ones included.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cache.Purge()
	return nil
}
