package fetcher

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/traffic-stats/pkg/traffic"
)

// cacheEntry wraps a payload so that "no data" (nil) can be cached too
type cacheEntry struct {
	payload traffic.Payload
}

// Cache is an in-memory LRU of fetched payloads keyed by (owner, repository, metric)
type Cache struct {
	lru *lru.LRU[string, cacheEntry]
}

// NewCache creates a cache holding at most size entries for ttl each
func NewCache(size int, ttl time.Duration) *Cache {
	if size < 1 {
		size = 1
	}
	return &Cache{
		lru: lru.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}

// Get returns the cached payload for key
func (c *Cache) Get(key string) (traffic.Payload, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return entry.payload, true
}

// Add stores a payload, nil included
func (c *Cache) Add(key string, payload traffic.Payload) {
	c.lru.Add(key, cacheEntry{payload: payload})
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge removes every entry
func (c *Cache) Purge() {
	c.lru.Purge()
}

// cacheKey builds the key of one request
func cacheKey(owner, repository string, metric traffic.Metric) string {
	return owner + "/" + repository + "/" + metric.Endpoint()
}
