package cache

import (
	"context"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// MemoryCache is a bounded in-process cache. Entries expire after their TTL;
// when full, the least recently written entry is evicted first.
type MemoryCache struct {
	mu       sync.Mutex
	items    *orderedmap.OrderedMap[string, cacheItem]
	capacity int
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

type cacheItem struct {
	value     interface{}
	expiresAt time.Time
}

// NewMemoryCache creates a cache holding at most capacity entries and starts
// its sweeper. Call Close to stop the sweeper.
func NewMemoryCache(capacity int, sweepEvery time.Duration) *MemoryCache {
	if capacity <= 0 {
		capacity = 10000
	}
	c := &MemoryCache{
		items:    orderedmap.New[string, cacheItem](),
		capacity: capacity,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	if sweepEvery > 0 {
		go c.sweep(sweepEvery)
	}
	return c
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().After(item.expiresAt) {
		c.items.Delete(key)
		return nil, false
	}
	return item.value, true
}

// Set stores a value in cache with TTL in seconds
func (c *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-inserting moves the key to the newest end.
	c.items.Delete(key)
	c.items.Set(key, cacheItem{
		value:     value,
		expiresAt: c.now().Add(time.Duration(ttl) * time.Second),
	})
	for c.items.Len() > c.capacity {
		oldest := c.items.Oldest()
		c.items.Delete(oldest.Key)
	}
	return nil
}

// Delete removes a value from cache
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items.Delete(key)
	return nil
}

// Clear removes all values from cache
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = orderedmap.New[string, cacheItem]()
	return nil
}

// Len returns the number of entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Close stops the sweeper
func (c *MemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *MemoryCache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *MemoryCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []string
	for pair := c.items.Oldest(); pair != nil; pair = pair.Next() {
		if now.After(pair.Value.expiresAt) {
			expired = append(expired, pair.Key)
		}
	}
	for _, key := range expired {
		c.items.Delete(key)
	}
}
