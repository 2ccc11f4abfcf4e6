package cache

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats holds session hit/miss counters. Counters start at zero when the
// Cache is constructed and reset with ResetStats; they are not persisted.
type Stats struct {
	Hits   int64
	Misses int64
}

// HitRate returns hits over total lookups, 0 when nothing was looked up.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache fronts the store with freshness policy and session accounting.
type Cache struct {
	store  *Store
	maxAge time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache over the store. maxAge bounds how old an entry may
// be and still count as a hit; 0 means entries never go stale on read.
func New(store *Store, maxAge time.Duration) *Cache {
	return &Cache{store: store, maxAge: maxAge}
}

// Get looks up a result. Absent and stale entries are both misses; a stale
// entry is deleted on the way out so it is not found again.
func (c *Cache) Get(key Key) (*Entry, bool) {
	entry, err := c.store.Get(key.ID())
	if err != nil || entry == nil {
		c.misses.Add(1)
		return nil, false
	}

	if c.maxAge > 0 && time.Since(entry.CreatedAt) > c.maxAge {
		c.misses.Add(1)
		_ = c.store.Delete(entry.KeyID)
		return nil, false
	}

	c.hits.Add(1)
	return entry, true
}

// Put stores a result under the key.
func (c *Cache) Put(key Key, payload, source string, tokens int64) error {
	now := time.Now()
	entry := &Entry{
		KeyID:       key.ID(),
		Fingerprint: key.Fingerprint,
		Scope:       key.Scope,
		Target:      key.Target,
		Payload:     payload,
		Source:      source,
		TokensUsed:  tokens,
		CreatedAt:   now,
		LastUsed:    now,
	}
	if err := c.store.Put(entry); err != nil {
		return fmt.Errorf("cache put %s/%s: %w", key.Scope, key.Target, err)
	}
	return nil
}

// InvalidateSource drops every entry derived from the given source path.
// Called when the source content changes upstream.
func (c *Cache) InvalidateSource(source string) (int64, error) {
	return c.store.DeleteBySource(source)
}

// InvalidateScope drops every entry in a scope.
func (c *Cache) InvalidateScope(scope string) (int64, error) {
	return c.store.DeleteByScope(scope)
}

// Prune deletes entries not used within maxAge and returns how many went.
func (c *Cache) Prune(maxAge time.Duration) (int64, error) {
	return c.store.DeleteOlderThan(time.Now().Add(-maxAge))
}

// Stats returns the session counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// ResetStats zeroes the session counters.
func (c *Cache) ResetStats() {
	c.hits.Store(0)
	c.misses.Store(0)
}

// Store exposes the underlying store for maintenance commands.
func (c *Cache) Store() *Store {
	return c.store
}
