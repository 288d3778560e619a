// ABOUTME: LRU-backed driver lookup decorator with per-entry expiry.
// ABOUTME: Caches positive hits only so newly added drivers are seen immediately.

package events

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/2389/timecard-gateway/internal/store"
)

const (
	defaultDriverCacheSize = 1024
	defaultDriverCacheTTL  = 5 * time.Minute
)

type driverEntry struct {
	name     string
	storedAt time.Time
}

// CachedDrivers wraps a DriverStore with an LRU of recently resolved names.
type CachedDrivers struct {
	delegate store.DriverStore
	cache    *lru.Cache[int64, driverEntry]
	ttl      time.Duration
}

var _ store.DriverStore = (*CachedDrivers)(nil)

// NewCachedDrivers wraps delegate. Zero size or ttl fall back to defaults.
func NewCachedDrivers(delegate store.DriverStore, size int, ttl time.Duration) *CachedDrivers {
	if size <= 0 {
		size = defaultDriverCacheSize
	}
	if ttl <= 0 {
		ttl = defaultDriverCacheTTL
	}
	// lru.New only errors on a non-positive size, guarded above
	cache, _ := lru.New[int64, driverEntry](size)
	return &CachedDrivers{
		delegate: delegate,
		cache:    cache,
		ttl:      ttl,
	}
}

// GetDriver returns a cached driver or falls through to the delegate.
func (c *CachedDrivers) GetDriver(ctx context.Context, id int64) (*store.Driver, error) {
	if entry, ok := c.cache.Get(id); ok {
		if time.Since(entry.storedAt) < c.ttl {
			return &store.Driver{ID: id, Name: entry.name}, nil
		}
		c.cache.Remove(id)
	}

	d, err := c.delegate.GetDriver(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, driverEntry{name: d.Name, storedAt: time.Now()})
	return d, nil
}

// Len returns the number of cached entries.
func (c *CachedDrivers) Len() int {
	return c.cache.Len()
}
