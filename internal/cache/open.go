package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Settings selects and configures a cache backend.
type Settings struct {
	Backend string

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	Redis RedisOptions
}

type remote interface {
	Cache
	Ping(ctx context.Context) error
	Close() error
}

// Open builds the configured backend. A remote backend that does not answer a ping
// is closed and replaced by NoopCache, so lookups keep working without a cache.
// The returned close func is never nil.
func Open(ctx context.Context, s Settings, logger *zap.Logger) (Cache, func() error, error) {
	noClose := func() error { return nil }

	var r remote
	switch s.Backend {
	case BackendInMemory, "":
		return NewInMemoryCache(), noClose, nil
	case BackendNone:
		return NoopCache{}, noClose, nil
	case BackendMemcached:
		mc, err := NewMemcachedCache(s.MemcachedAddrs, s.MemcachedTimeout, s.MemcachedMaxIdleConns)
		if err != nil {
			return nil, noClose, err
		}
		r = mc
	case BackendRedis:
		r = NewRedisCache(s.Redis)
	default:
		return nil, noClose, fmt.Errorf("unknown cache backend %q", s.Backend)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		logger.Warn("cache unavailable, continuing without cache",
			zap.String("backend", r.Name()),
			zap.Error(err),
		)
		_ = r.Close()
		return NoopCache{}, noClose, nil
	}
	logger.Info("cache connected", zap.String("backend", r.Name()))
	return r, r.Close, nil
}
