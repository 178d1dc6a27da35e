// Package cache provides an in-process key-value cache with per-entry TTL.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Cache is a key-value store with per-entry expiry. Implementations must be
// safe for concurrent use.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is a map-backed Cache. Expired entries are treated as misses on read
// and removed by Sweep or the Run loop.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	hits    atomic.Int64
	misses  atomic.Int64

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewMemory creates an empty Memory cache.
func NewMemory[V any]() *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]entry[V]),
		nowFunc: time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (m *Memory[V]) Get(key string) (V, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		m.misses.Add(1)
		var zero V
		return zero, false
	}
	if e.expired(m.nowFunc()) {
		m.mu.Lock()
		// Re-check: a concurrent Set may have replaced the entry.
		if cur, still := m.entries[key]; still && cur.expired(m.nowFunc()) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		m.misses.Add(1)
		var zero V
		return zero, false
	}

	m.hits.Add(1)
	return e.value, true
}

// Set stores value under key. A ttl <= 0 stores the entry without expiry.
func (m *Memory[V]) Set(key string, value V, ttl time.Duration) {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = m.nowFunc().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *Memory[V]) Delete(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (m *Memory[V]) Sweep() int {
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (m *Memory[V]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				zap.L().Debug("cache: swept expired entries", zap.Int("removed", n))
			}
		}
	}
}

// Stats returns a snapshot of hit/miss counters.
func (m *Memory[V]) Stats() Stats {
	hits := m.hits.Load()
	misses := m.misses.Load()
	s := Stats{
		Entries: m.Len(),
		Hits:    hits,
		Misses:  misses,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
