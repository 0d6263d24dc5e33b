package pages

import "sync"

// renderCache remembers converted Markdown by snapshot generation and file
// identity. An edited file changes mtime or size and misses, a swapped
// snapshot changes the generation and misses.
type renderCache struct {
	mu      sync.RWMutex
	max     int
	entries map[cacheKey]cached
}

type cacheKey struct {
	generation uint64
	path       string
	modTime    int64 // unix nanos
	size       int64
}

type cached struct {
	html  []byte
	title string
}

func newRenderCache(max int) *renderCache {
	if max <= 0 {
		max = 512
	}
	return &renderCache{max: max, entries: make(map[cacheKey]cached)}
}

func (c *renderCache) get(k cacheKey) (cached, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[k]
	return v, ok
}

func (c *renderCache) put(k cacheKey, v cached) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// drop stale versions of the same file
	for old := range c.entries {
		if old.path == k.path {
			delete(c.entries, old)
		}
	}
	if len(c.entries) >= c.max {
		clear(c.entries)
	}
	c.entries[k] = v
}

func (c *renderCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
