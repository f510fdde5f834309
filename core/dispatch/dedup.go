package dispatch

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"
)

// dedupCache remembers recently processed messages so broker
// redelivery (QoS 1) cannot create duplicate rows. Keys combine topic,
// device and a payload hash; entries expire after a short TTL.
type dedupCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		seen: map[string]time.Time{},
		ttl:  ttl,
		now:  time.Now,
	}
}

func dedupKey(topic, deviceID string, payload []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return topic + "|" + deviceID + "|" + strconv.FormatUint(h.Sum64(), 16)
}

// isDuplicate reports whether the key was seen within the TTL. It does
// not record the key; Mark is called only after successful processing,
// so a failed persist stays eligible for redelivery.
func (c *dedupCache) isDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.seen[key]
	if !ok {
		return false
	}
	if c.now().Sub(at) > c.ttl {
		delete(c.seen, key)
		return false
	}
	return true
}

// mark records the key and opportunistically sweeps expired entries.
func (c *dedupCache) mark(key string) {
	now := c.now()
	c.mu.Lock()
	c.seen[key] = now
	if len(c.seen) > 4096 {
		for k, at := range c.seen {
			if now.Sub(at) > c.ttl {
				delete(c.seen, k)
			}
		}
	}
	c.mu.Unlock()
}
