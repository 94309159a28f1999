package responsecache

import (
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/responsecache"
)

// InMemoryCache implements responsecache.Cache with a plain map.
// It is not safe for concurrent use; the owning worker serializes all access.
type InMemoryCache struct {
	entries map[pumpmsg.CacheKey]*pumpmsg.Response
}

// NewInMemoryCache creates an empty cache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		entries: make(map[pumpmsg.CacheKey]*pumpmsg.Response),
	}
}

// Put stores resp under key. A nil response is ignored.
func (c *InMemoryCache) Put(key pumpmsg.CacheKey, resp *pumpmsg.Response) {
	if resp == nil {
		return
	}
	c.entries[key] = resp
}

// Get returns the most recent response stored under key.
func (c *InMemoryCache) Get(key pumpmsg.CacheKey) (*pumpmsg.Response, bool) {
	resp, ok := c.entries[key]
	return resp, ok
}

// Invalidate removes the entry for key if present.
func (c *InMemoryCache) Invalidate(key pumpmsg.CacheKey) bool {
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Len returns the number of entries.
func (c *InMemoryCache) Len() int {
	return len(c.entries)
}

// Verify that InMemoryCache implements the Cache interface at compile time
var _ responsecache.Cache = (*InMemoryCache)(nil)
