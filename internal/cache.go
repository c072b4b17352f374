package internal

import (
	"strings"
	"sync"
	"time"

	"github.com/lychee-technology/registra"
)

const latestKeySuffix = "latest"

// CacheKey builds the cache key for one lookup: "<id>:<version>" for a pinned
// read, "<id>:latest" for a latest read.
func CacheKey(id string, version *registra.Version) string {
	if version == nil {
		return id + ":" + latestKeySuffix
	}
	return id + ":" + version.String()
}

type cacheEntry struct {
	record    *registra.VersionRecord
	expiresAt time.Time
}

// recordCache is a TTL read-through cache over version records. Entries are
// replaced whole, never mutated in place, and a stored record is cloned on
// both Put and Get so callers can never reach the cached copy.
type recordCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newRecordCache(ttl time.Duration) *recordCache {
	return &recordCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *recordCache) Get(key string) (*registra.VersionRecord, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.record.Clone(), true
}

func (c *recordCache) Put(key string, rec *registra.VersionRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{
		record:    rec.Clone(),
		expiresAt: c.now().Add(c.ttl),
	}
}

// InvalidateID drops every entry for a schema id, pinned and latest alike.
func (c *recordCache) InvalidateID(id string) {
	prefix := id + ":"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

func (c *recordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
