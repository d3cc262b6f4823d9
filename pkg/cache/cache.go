// Package cache provides the in-memory key-value store held by each ringkv
// server.
//
// The store is a plain string map guarded by one reader/writer lock. There is
// no expiry and no eviction: a key stays until the process exits.
//
// Example usage:
//
//	c := cache.New()
//	c.Set("user:123", "john_doe")
//	if value, ok := c.Get("user:123"); ok {
//		fmt.Println(value)
//	}
//
// All operations are safe for concurrent use. Writers exclude each other and
// all readers, so a reader never sees a half-applied Set.
package cache

import (
	"sync"
)

// Cache is a concurrency-safe string map.
type Cache struct {
	data map[string]string // The actual storage
	mu   sync.RWMutex      // Protects the data map
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		data: make(map[string]string),
	}
}

// Get returns the value stored for key and whether it was present.
// Takes the shared lock.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.data[key]
	return value, ok
}

// Set stores value under key, replacing any previous value.
// Takes the exclusive lock.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = value
}

// Len returns the number of keys held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Snapshot returns a copy of the whole store. Intended for debug dumps; the
// copy is not kept in sync with later writes.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.data))
	for k, v := range c.data {
		out[k] = v
	}
	return out
}
