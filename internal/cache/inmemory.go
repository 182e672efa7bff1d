package cache

import (
	"context"
	"strings"
	"time"

	goCache "github.com/patrickmn/go-cache"
)

// DefaultExpiration is the default expiration time for cache entries
const DefaultExpiration = 30 * time.Minute

// DefaultCleanupInterval is how often expired items are removed from the cache
const DefaultCleanupInterval = 1 * time.Hour

// InMemoryCache implements the Cache interface using github.com/patrickmn/go-cache.
// Instances are owned by whoever constructs them; there is no shared global.
type InMemoryCache struct {
	cache *goCache.Cache
}

// NewInMemoryCache creates a cache with the default expiration and cleanup interval
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithExpiration(DefaultExpiration, DefaultCleanupInterval)
}

// NewInMemoryCacheWithExpiration creates a cache with explicit eviction settings
func NewInMemoryCacheWithExpiration(defaultExpiration, cleanupInterval time.Duration) *InMemoryCache {
	return &InMemoryCache{
		cache: goCache.New(defaultExpiration, cleanupInterval),
	}
}

// Get retrieves a value from the cache
func (c *InMemoryCache) Get(_ context.Context, key string) (interface{}, bool) {
	return c.cache.Get(key)
}

// Set adds a value to the cache with the specified expiration
func (c *InMemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) {
	c.cache.Set(key, value, expiration)
}

// SetIfAbsent atomically adds the key when it does not exist yet
func (c *InMemoryCache) SetIfAbsent(_ context.Context, key string, value interface{}, expiration time.Duration) bool {
	return c.cache.Add(key, value, expiration) == nil
}

// Delete removes a key from the cache
func (c *InMemoryCache) Delete(_ context.Context, key string) {
	c.cache.Delete(key)
}

// DeleteByPrefix removes all keys with the given prefix
func (c *InMemoryCache) DeleteByPrefix(_ context.Context, prefix string) {
	for k := range c.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			c.cache.Delete(k)
		}
	}
}

// Flush removes all items from the cache
func (c *InMemoryCache) Flush(_ context.Context) {
	c.cache.Flush()
}

// ItemCount returns the number of items including expired ones not yet cleaned up
func (c *InMemoryCache) ItemCount() int {
	return c.cache.ItemCount()
}
