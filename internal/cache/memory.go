// ABOUTME: In-process TTL cache with a size bound, evicting the oldest entry first
// ABOUTME: Used when no Redis URL is configured

package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// memoryEntry stores a value, its expiry and its place in the eviction order.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// Memory is a thread-safe, TTL-based, size-limited cache. Keys are kept in a
// doubly-linked list in insertion order so eviction is O(1).
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	order      *list.List // keys, oldest at front
	defaultTTL time.Duration
	maxSize    int
	now        func() time.Time
	done       chan struct{}
	closed     bool
}

// NewMemory creates a memory cache. Entries set with a zero TTL use
// defaultTTL; a zero defaultTTL means such entries never expire. A background
// goroutine removes expired entries every interval.
func NewMemory(defaultTTL time.Duration, maxSize int) *Memory {
	return newMemory(defaultTTL, maxSize, time.Minute, time.Now)
}

func newMemory(defaultTTL time.Duration, maxSize int, interval time.Duration, now func() time.Time) *Memory {
	if maxSize <= 0 {
		maxSize = DefaultMaxEntries
	}
	m := &Memory{
		entries:    make(map[string]*memoryEntry),
		order:      list.New(),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		now:        now,
		done:       make(chan struct{}),
	}
	go m.cleanup(interval)
	return m
}

// Get returns the value for key if present and not expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || m.expired(entry, m.now()) {
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key. If the cache is at capacity the oldest entry
// is evicted to make room.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	if entry, exists := m.entries[key]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		m.order.MoveToBack(entry.element)
		return nil
	}

	if len(m.entries) >= m.maxSize {
		m.evictOldest()
	}

	elem := m.order.PushBack(key)
	m.entries[key] = &memoryEntry{
		value:     value,
		expiresAt: expiresAt,
		element:   elem,
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until the
// next cleanup.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Ping reports ErrClosed after Close.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close stops the cleanup goroutine. It is safe to call multiple times.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		close(m.done)
		m.closed = true
	}
	return nil
}

func (m *Memory) expired(entry *memoryEntry, now time.Time) bool {
	return !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt)
}

// evictOldest must be called with mu held.
func (m *Memory) evictOldest() {
	front := m.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	m.order.Remove(front)
	delete(m.entries, key)
}

func (m *Memory) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeExpired()
		case <-m.done:
			return
		}
	}
}

func (m *Memory) removeExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if m.expired(entry, now) {
			m.order.Remove(entry.element)
			delete(m.entries, key)
		}
	}
}
