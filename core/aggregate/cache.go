package aggregate

import (
	"sync"
	"time"

	"github.com/enermesh/telemetrix/core/model"
)

type cacheKey struct {
	device string
	typ    model.IntervalType
	start  int64
}

type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

// Cache holds computed bucket values with a per-period TTL. It is never
// authoritative; every entry can be rebuilt from the interval store.
type Cache struct {
	mu   sync.RWMutex
	data map[cacheKey]cacheEntry
	ttls map[model.IntervalType]time.Duration
	now  func() time.Time
}

// NewCache builds a cache with the given per-period TTLs.
func NewCache(ttls map[model.IntervalType]time.Duration) *Cache {
	return &Cache{
		data: map[cacheKey]cacheEntry{},
		ttls: ttls,
		now:  time.Now,
	}
}

// Get returns the cached value when present and not expired.
func (c *Cache) Get(deviceID string, typ model.IntervalType, start time.Time) (float64, bool) {
	k := cacheKey{deviceID, typ, start.UnixNano()}
	c.mu.RLock()
	e, ok := c.data[k]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return 0, false
	}
	return e.value, true
}

// Set stores the value with the period's TTL.
func (c *Cache) Set(deviceID string, typ model.IntervalType, start time.Time, value float64) {
	ttl := c.ttls[typ]
	if ttl <= 0 {
		return
	}
	k := cacheKey{deviceID, typ, start.UnixNano()}
	c.mu.Lock()
	c.data[k] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate removes a single entry.
func (c *Cache) Invalidate(deviceID string, typ model.IntervalType, start time.Time) {
	k := cacheKey{deviceID, typ, start.UnixNano()}
	c.mu.Lock()
	delete(c.data, k)
	c.mu.Unlock()
}

// InvalidateCoarser removes every coarser-period entry enclosing ts, so
// stale aggregates are never served after a finer interval changed.
func (c *Cache) InvalidateCoarser(deviceID string, from model.IntervalType, ts time.Time) {
	typ := from
	for {
		parent, ok := typ.Parent()
		if !ok {
			return
		}
		c.Invalidate(deviceID, parent, parent.BucketStart(ts))
		typ = parent
	}
}

// Purge drops all entries for a device.
func (c *Cache) Purge(deviceID string) {
	c.mu.Lock()
	for k := range c.data {
		if k.device == deviceID {
			delete(c.data, k)
		}
	}
	c.mu.Unlock()
}
