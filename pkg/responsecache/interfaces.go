package responsecache

import (
	"github.com/rmacdonaldsmith/pumprelay-go/pkg/pumpmsg"
)

// Cache holds the last response received per (characteristic, opcode).
type Cache interface {
	// Put stores resp under key, replacing any previous entry.
	Put(key pumpmsg.CacheKey, resp *pumpmsg.Response)

	// Get returns the entry for key and whether one exists.
	Get(key pumpmsg.CacheKey) (*pumpmsg.Response, bool)

	// Invalidate removes the entry for key. It reports whether an entry was removed.
	Invalidate(key pumpmsg.CacheKey) bool

	// Len returns the number of cached entries.
	Len() int
}
