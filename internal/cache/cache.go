package cache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Store is a byte cache with per-entry TTL. Misses and backend errors both
// report ok=false; callers fall back to computing the value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// MemoryCache is an in-process Store with LRU eviction
type MemoryCache struct {
	cache      map[string]*entry
	mutex      sync.RWMutex
	maxEntries int
	stats      Stats
	now        func() time.Time
	done       chan struct{}
	closeOnce  sync.Once
}

type entry struct {
	value        []byte
	expiresAt    time.Time
	lastAccessed time.Time
	hitCount     int
}

// Stats tracks cache performance
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	mutex     sync.RWMutex
}

// NewMemoryCache creates a cache holding up to maxEntries values and starts
// its cleanup loop. Call Close to stop it.
func NewMemoryCache(maxEntries int, cleanupEvery time.Duration) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	c := &MemoryCache{
		cache:      make(map[string]*entry),
		maxEntries: maxEntries,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	if cleanupEvery > 0 {
		go c.cleanupExpired(cleanupEvery)
	}
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mutex.Lock()
	e, found := c.cache[key]
	if !found {
		c.mutex.Unlock()
		c.recordMiss()
		return nil, false
	}
	now := c.now()
	if !now.Before(e.expiresAt) {
		delete(c.cache, key)
		c.mutex.Unlock()
		c.recordMiss()
		c.recordEviction()
		return nil, false
	}
	e.lastAccessed = now
	e.hitCount++
	value := e.value
	c.mutex.Unlock()

	c.recordHit()
	return value, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.cache[key]; !exists && len(c.cache) >= c.maxEntries {
		c.evictOldest()
	}
	now := c.now()
	c.cache[key] = &entry{
		value:        value,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	}
}

func (c *MemoryCache) Delete(ctx context.Context, key string) {
	c.mutex.Lock()
	delete(c.cache, key)
	c.mutex.Unlock()
}

// Close stops the cleanup loop
func (c *MemoryCache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, e := range c.cache {
		if oldestKey == "" || e.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = e.lastAccessed
		}
	}

	if oldestKey != "" {
		delete(c.cache, oldestKey)
		c.recordEviction()
		log.Printf("🗑️  Evicted oldest cache entry: %s", oldestKey)
	}
}

func (c *MemoryCache) cleanupExpired(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mutex.Lock()
			now := c.now()
			for key, e := range c.cache {
				if !now.Before(e.expiresAt) {
					delete(c.cache, key)
					c.recordEviction()
				}
			}
			c.mutex.Unlock()
		}
	}
}

func (c *MemoryCache) recordHit() {
	c.stats.mutex.Lock()
	defer c.stats.mutex.Unlock()
	c.stats.Hits++
}

func (c *MemoryCache) recordMiss() {
	c.stats.mutex.Lock()
	defer c.stats.mutex.Unlock()
	c.stats.Misses++
}

func (c *MemoryCache) recordEviction() {
	c.stats.mutex.Lock()
	defer c.stats.mutex.Unlock()
	c.stats.Evictions++
}

// GetStats returns cache statistics
func (c *MemoryCache) GetStats() map[string]interface{} {
	c.stats.mutex.RLock()
	defer c.stats.mutex.RUnlock()

	c.mutex.RLock()
	size := len(c.cache)
	c.mutex.RUnlock()

	hitRate := 0.0
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		hitRate = float64(c.stats.Hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"cache_size":  size,
		"max_entries": c.maxEntries,
		"hits":        c.stats.Hits,
		"misses":      c.stats.Misses,
		"hit_rate":    fmt.Sprintf("%.2f%%", hitRate),
		"evictions":   c.stats.Evictions,
	}
}
