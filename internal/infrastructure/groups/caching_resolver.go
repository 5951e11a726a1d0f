package groups

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/damon-houk/fx-rate-snapshot-store/internal/domain/repository"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// DefaultLookupTimeout bounds a shared lookup once it no longer follows any caller's context
const DefaultLookupTimeout = 10 * time.Second

type resolution struct {
	group   uuid.UUID
	found   bool
	expires time.Time
}

// CachingResolver remembers answers of another resolver for a while,
// including "not found". Concurrent lookups of one address share a call;
// each caller waits on its own context, so one caller giving up does not
// fail the others.
type CachingResolver struct {
	next          repository.GroupResolver
	ttl           time.Duration
	lookupTimeout time.Duration
	now           func() time.Time
	group         singleflight.Group

	mu        sync.Mutex
	entries   map[string]resolution
	lastSweep time.Time
}

// NewCachingResolver wraps next with a TTL cache
func NewCachingResolver(next repository.GroupResolver, ttl time.Duration) *CachingResolver {
	return &CachingResolver{
		next:          next,
		ttl:           ttl,
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
		entries:       make(map[string]resolution),
	}
}

// ResolveGroupForEmail implements the GroupResolver interface
func (c *CachingResolver) ResolveGroupForEmail(ctx context.Context, email string) (uuid.UUID, bool, error) {
	key := strings.ToLower(strings.TrimSpace(email))

	if res, ok := c.lookup(key); ok {
		return res.group, res.found, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()

		id, found, err := c.next.ResolveGroupForEmail(callCtx, email)
		if err != nil {
			return nil, err
		}
		res := resolution{group: id, found: found, expires: c.now().Add(c.ttl)}
		c.store(key, res)
		return res, nil
	})

	select {
	case <-ctx.Done():
		return uuid.Nil, false, fmt.Errorf("group lookup cancelled: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return uuid.Nil, false, r.Err
		}
		res := r.Val.(resolution)
		return res.group, res.found, nil
	}
}

func (c *CachingResolver) lookup(key string) (resolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return resolution{}, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return resolution{}, false
	}
	return entry, true
}

func (c *CachingResolver) store(key string, res resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = res

	// sweep at most once per TTL so addresses that are never asked again still go away
	if now := c.now(); now.Sub(c.lastSweep) >= c.ttl {
		c.cleanExpiredLocked(now)
		c.lastSweep = now
	}
}

// CleanExpired removes expired entries and returns how many were removed
func (c *CachingResolver) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanExpiredLocked(c.now())
}

func (c *CachingResolver) cleanExpiredLocked(now time.Time) int {
	count := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
			count++
		}
	}
	return count
}

// Size returns the number of cached answers
func (c *CachingResolver) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
