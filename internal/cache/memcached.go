package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

const keyPrefix = "weather:"

// memcached rejects keys longer than 250 bytes or containing spaces and control characters.
const maxMemcachedKey = 250

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcachedKey escapes the city so multi-word and non-ASCII names form legal keys.
func memcachedKey(k string) string {
	key := keyPrefix + url.PathEscape(k)
	if len(key) > maxMemcachedKey {
		sum := sha1.Sum([]byte(k))
		key = keyPrefix + "sha1:" + hex.EncodeToString(sum[:])
	}
	return key
}

// Get returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	if ctx.Err() != nil {
		return models.Reading{}, false, ctx.Err()
	}
	item, err := c.client.Get(memcachedKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.Reading{}, false, nil
		}
		return models.Reading{}, false, err
	}
	var data models.Reading
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return models.Reading{}, false, err
	}
	return data, true, nil
}

func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        memcachedKey(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// maxRelativeExp is the largest relative expiration memcached accepts (30 days);
// larger values are read as unix timestamps.
const maxRelativeExp = 30 * 24 * 60 * 60

// expirationSeconds converts ttl to memcached seconds. Sub-second TTLs round up to 1;
// non-positive or out-of-range TTLs use the 30 minute default.
func expirationSeconds(ttl time.Duration) int32 {
	secs := math.Ceil(ttl.Seconds())
	if secs <= 0 || secs > maxRelativeExp {
		return 1800
	}
	return int32(secs)
}

func (c *MemcachedCache) Name() string { return BackendMemcached }

// Ping checks if memcached is reachable.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
