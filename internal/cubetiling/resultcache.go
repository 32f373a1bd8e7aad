package cubetiling

import (
	"sync"
	"sync/atomic"
)

// DefaultResultCacheSize bounds the memoised tilings of a Tiler.
const DefaultResultCacheSize = 4096

// ResultCache memoises finished tilings by their full parameter set.
// When full, the oldest entry is evicted.
type ResultCache struct {
	mu       sync.RWMutex
	entries  map[CubeTilingParam]CubeTiling
	order    []CubeTilingParam
	capacity int
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// NewResultCache returns a cache holding up to capacity entries. A
// capacity of zero disables caching.
func NewResultCache(capacity int) *ResultCache {
	return &ResultCache{
		entries:  make(map[CubeTilingParam]CubeTiling),
		capacity: max(capacity, 0),
	}
}

func (c *ResultCache) Get(p CubeTilingParam) (CubeTiling, bool) {
	c.mu.RLock()
	t, ok := c.entries[p]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return t, ok
}

func (c *ResultCache) Put(p CubeTilingParam, t CubeTiling) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[p]; ok {
		c.entries[p] = t
		return
	}
	for len(c.order) >= c.capacity {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[p] = t
	c.order = append(c.order, p)
}

func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ResultCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[CubeTilingParam]CubeTiling)
	c.order = nil
	c.hits.Store(0)
	c.misses.Store(0)
}

// CacheStats is a snapshot of the hit counters.
type CacheStats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
}

func (c *ResultCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{Entries: len(c.entries), Hits: c.hits.Load(), Misses: c.misses.Load()}
}
