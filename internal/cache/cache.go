package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

// Backend names accepted in configuration.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
	BackendNone      = "none"
)

// Cache defines the interface for weather reading caching implementations.
// Get returns cached data if present and not expired, Set stores data with a fixed TTL.
// Keys are normalized city names; backends add their own namespace prefix.
type Cache interface {
	Get(ctx context.Context, key string) (models.Reading, bool, error)
	Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error
	Name() string
}

// Key normalizes a city into a cache key so "Paris" and " paris " share one entry.
func Key(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.Reading
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns (data, true, nil) on hit and (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Reading{}, false, nil
	}

	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.Reading{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores data with the given TTL. The entry is dropped on the first Get after it expires.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

func (c *InMemoryCache) Name() string { return BackendInMemory }

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// NoopCache always misses. Used when caching is disabled or the remote cache is unreachable.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	return models.Reading{}, false, nil
}

func (NoopCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	return nil
}

func (NoopCache) Name() string { return BackendNone }
