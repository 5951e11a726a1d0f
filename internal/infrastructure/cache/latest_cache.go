// Package cache keeps the latest snapshot per base code close to the caller
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/entity"
)

// DefaultExpiration bounds how long a cached latest snapshot is served
const DefaultExpiration = 5 * time.Minute

// LatestCache holds the latest known snapshot for each base code
type LatestCache interface {
	// Get returns the cached snapshot and true on a hit
	Get(ctx context.Context, baseCode string) (*entity.ExchangeRateSnapshot, bool, error)
	// Put stores the snapshot unless a newer one is already cached
	Put(ctx context.Context, snapshot entity.ExchangeRateSnapshot) error
	// Invalidate drops whatever is cached for the base code
	Invalidate(ctx context.Context, baseCode string) error
}

// CacheEntry is a cached snapshot with the time it was stored
type CacheEntry struct {
	Snapshot  entity.ExchangeRateSnapshot
	Timestamp time.Time
}

// MemoryLatestCache is a thread-safe in-process LatestCache
type MemoryLatestCache struct {
	cache      map[string]CacheEntry
	expiration time.Duration
	now        func() time.Time
	mutex      sync.RWMutex
}

// NewMemoryLatestCache creates a cache whose entries expire after expiration.
// A non-positive expiration uses DefaultExpiration.
func NewMemoryLatestCache(expiration time.Duration) *MemoryLatestCache {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	return &MemoryLatestCache{
		cache:      make(map[string]CacheEntry),
		expiration: expiration,
		now:        time.Now,
	}
}

// Get returns the cached snapshot for the base code if present and not expired
func (c *MemoryLatestCache) Get(_ context.Context, baseCode string) (*entity.ExchangeRateSnapshot, bool, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[entity.NormalizeCode(baseCode)]
	if !exists || c.now().Sub(entry.Timestamp) > c.expiration {
		return nil, false, nil
	}

	snap := entry.Snapshot.Clone()
	return &snap, true, nil
}

// Put stores the snapshot. An older snapshot never replaces a newer live one.
func (c *MemoryLatestCache) Put(_ context.Context, snapshot entity.ExchangeRateSnapshot) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	if cur, ok := c.cache[snapshot.BaseCode]; ok && now.Sub(cur.Timestamp) <= c.expiration {
		if !snapshot.NewerThan(cur.Snapshot) {
			return nil
		}
	}

	c.cache[snapshot.BaseCode] = CacheEntry{
		Snapshot:  snapshot.Clone(),
		Timestamp: now,
	}
	return nil
}

// Invalidate removes the entry of one base code
func (c *MemoryLatestCache) Invalidate(_ context.Context, baseCode string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	delete(c.cache, entity.NormalizeCode(baseCode))
	return nil
}

// Clear clears all entries from the cache
func (c *MemoryLatestCache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache = make(map[string]CacheEntry)
}

// SetExpiration sets the cache expiration duration
func (c *MemoryLatestCache) SetExpiration(duration time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.expiration = duration
}

// Size returns the number of items in the cache
func (c *MemoryLatestCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return len(c.cache)
}

// CleanExpired removes expired entries from the cache
func (c *MemoryLatestCache) CleanExpired() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	now := c.now()

	for key, entry := range c.cache {
		if now.Sub(entry.Timestamp) > c.expiration {
			delete(c.cache, key)
			count++
		}
	}

	return count
}
