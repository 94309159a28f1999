// Package responsecache provides the interface for the relay's response cache.
//
// The cache maps (characteristic, response opcode) to the most recent Response seen
// from the pump, so a host asking for data the pump already reported can be answered
// without another radio round trip:
//   - Put stores or unconditionally replaces the entry for a key
//   - Get returns the stored response, if any
//   - Invalidate removes an entry and is a no-op when none exists
//
// Entries live for the lifetime of the process. There is no expiry, no size bound
// and no persistence. Implementations are not required to be safe for concurrent
// use: the command worker is the only reader and writer.
//
// Example usage:
//
//	cache.Put(resp.Key(), resp)
//
//	if cached, ok := cache.Get(cmd.ResponseKey()); ok {
//		forward(cached)
//	}
//
//	cache.Invalidate(cmd.ResponseKey())
package responsecache
