package rbac

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// PermissionSource resolves the permissions granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

type cacheEntry struct {
	perms     []string
	fetchedAt time.Time
	ttl       time.Duration
}

func (e cacheEntry) isStale(now time.Time) bool {
	return !now.Before(e.fetchedAt.Add(e.ttl))
}

// PermissionCache memoises a PermissionSource per user for a fixed TTL.
// Failed loads are never cached.
type PermissionCache struct {
	source PermissionSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[int64]cacheEntry
	loads   singleflight.Group
}

// NewPermissionCache wraps source. A non-positive ttl disables caching.
func NewPermissionCache(source PermissionSource, ttl time.Duration, now func() time.Time) *PermissionCache {
	if now == nil {
		now = time.Now
	}
	return &PermissionCache{
		source:  source,
		ttl:     ttl,
		now:     now,
		entries: make(map[int64]cacheEntry),
	}
}

// EffectivePermissions returns cached permissions, reloading stale entries.
func (c *PermissionCache) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	if c.ttl <= 0 {
		return c.source.EffectivePermissions(ctx, userID)
	}
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if ok && !entry.isStale(c.now()) {
		return slices.Clone(entry.perms), nil
	}

	v, err, _ := c.loads.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		perms, err := c.source.EffectivePermissions(ctx, userID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[userID] = cacheEntry{perms: perms, fetchedAt: c.now(), ttl: c.ttl}
		c.mu.Unlock()
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]string)), nil
}

// Invalidate drops the cached grants of userID.
func (c *PermissionCache) Invalidate(userID int64) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}
