package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/weather-lookup/internal/models"
)

// RedisCache implements Cache on redis with SET ... EX, one JSON value per city.
type RedisCache struct {
	rdb *redis.Client
}

// RedisOptions configures NewRedisCache.
type RedisOptions struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

func NewRedisCache(opts RedisOptions) *RedisCache {
	return NewRedisCacheFromClient(redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	}))
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func redisKey(k string) string { return keyPrefix + k }

func (c *RedisCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	b, err := c.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Reading{}, false, nil
	}
	if err != nil {
		return models.Reading{}, false, err
	}
	var data models.Reading
	if err := json.Unmarshal(b, &data); err != nil {
		return models.Reading{}, false, err
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return c.rdb.Set(ctx, redisKey(key), raw, ttl).Err()
}

func (c *RedisCache) Name() string { return BackendRedis }

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
