// Package cache provides a generic LRU cache with a soft limit.
//
// Inserting past the limit evicts the least recently used quarter of the
// entries in one step, so the eviction cost is amortized over many
// insertions:
//
//	c := cache.New[string, int](100,
//	    cache.WithOnEvict(func(k string, v int) { log.Println("evicted", k) }))
//	c.Set("key", 42)
//	value, ok := c.Get("key")
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
