package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/cache"
	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/history"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/validation"
)

// Result is the outcome of a successful lookup.
type Result struct {
	City    string // as typed, trimmed
	Reading models.Reading
	Cached  bool
}

// Options tunes LookupService. Zero values fall back to defaults.
type Options struct {
	CacheTTL      time.Duration
	HistoryLimit  int
	CityMinLength int
	CityMaxLength int
}

// LookupService runs a lookup: validate, read the cache, fetch on a miss, cache the
// reading and append it to the history log.
type LookupService struct {
	client  client.WeatherClient
	cache   cache.Cache
	history history.Store
	opts    Options
	logger  *zap.Logger
}

// NewLookupService wires the lookup pipeline. cache may be nil (no caching).
func NewLookupService(c client.WeatherClient, ch cache.Cache, h history.Store, opts Options, logger *zap.Logger) *LookupService {
	if ch == nil {
		ch = cache.NoopCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Minute
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = history.DefaultLimit
	}
	if opts.CityMaxLength <= 0 {
		opts.CityMaxLength = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LookupService{
		client:  c,
		cache:   ch,
		history: h,
		opts:    opts,
		logger:  logger,
	}
}

// Lookup returns the current weather for city. A cache hit is served without a
// network call and is not logged to history. Cache and history failures are logged
// and never fail the lookup.
func (s *LookupService) Lookup(ctx context.Context, input string) (Result, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	city, err := validation.ValidateCity(input, s.opts.CityMinLength, s.opts.CityMaxLength)
	if err != nil {
		observability.LookupsTotal.WithLabelValues(KindInvalidInput.String()).Inc()
		return Result{}, err
	}
	key := cache.Key(city)
	backend := s.cache.Name()

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", backend).Inc()
		logger.Warn("cache get failed", zap.String("city", city), zap.String("backend", backend), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(backend).Inc()
		observability.RecordLookup(city, "ok")
		logger.Debug("weather served", zap.String("city", city), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return Result{City: city, Reading: cached, Cached: true}, nil
	} else {
		observability.CacheMissesTotal.WithLabelValues(backend).Inc()
	}

	logger.Debug("cache miss, fetching upstream", zap.String("city", city))
	reading, err := s.client.GetCurrentWeather(ctx, city)
	if err != nil {
		kind := Classify(err)
		observability.RecordLookup(city, kind.String())
		logger.Info("lookup failed",
			zap.String("city", city),
			zap.String("kind", kind.String()),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return Result{}, fmt.Errorf("fetch weather for %s: %w", city, err)
	}

	if setErr := s.cache.Set(ctx, key, reading, s.opts.CacheTTL); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", backend).Inc()
		logger.Warn("cache set failed", zap.String("city", city), zap.String("backend", backend), zap.Error(setErr))
	}

	if s.history != nil {
		obs := models.NewObservation(city, reading)
		if appendErr := s.history.Append(ctx, &obs); appendErr != nil {
			logger.Warn("history append failed", zap.String("city", city), zap.Error(appendErr))
		}
	}

	observability.RecordLookup(city, "ok")
	logger.Debug("weather served", zap.String("city", city), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return Result{City: city, Reading: reading}, nil
}

// Recent returns the configured number of most recent lookups, newest first.
func (s *LookupService) Recent(ctx context.Context) ([]models.Observation, error) {
	return s.RecentN(ctx, s.opts.HistoryLimit)
}

// RecentN returns up to limit recent lookups. A nil history store yields no entries.
func (s *LookupService) RecentN(ctx context.Context, limit int) ([]models.Observation, error) {
	if s.history == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.opts.HistoryLimit
	}
	return s.history.Recent(ctx, limit)
}

// Ready reports whether the history store answers. Used by health checks.
func (s *LookupService) Ready(ctx context.Context) error {
	if s.history == nil {
		return errors.New("history store not configured")
	}
	return s.history.Ping(ctx)
}

// CacheBackend names the cache in use.
func (s *LookupService) CacheBackend() string {
	return s.cache.Name()
}
