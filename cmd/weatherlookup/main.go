// Command weatherlookup looks up current weather for a city. Without -city it serves
// the lookup window over HTTP; with -city it prints one lookup to the terminal.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup/internal/cache"
	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/config"
	"github.com/kjstillabower/weather-lookup/internal/history"
	httphandler "github.com/kjstillabower/weather-lookup/internal/http"
	"github.com/kjstillabower/weather-lookup/internal/lifecycle"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/service"
	"github.com/kjstillabower/weather-lookup/internal/view"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app holds the wired dependencies shared by both modes.
type app struct {
	cfg       *config.Config
	client    *client.OpenWeatherClient
	cache     cache.Cache
	store     *history.Repo
	lookups   *service.LookupService
	closeFns  []func() error
	cachePing func(ctx context.Context) error
}

func (a *app) Close(logger *zap.Logger) {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		if err := a.closeFns[i](); err != nil {
			logger.Error("close", zap.Error(err))
		}
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("weatherlookup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	city := fs.String("city", "", "look up one city, print the result and exit")
	configDir := fs.String("config", "", "config directory (default ./config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	oneShot := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "city" {
			oneShot = true
		}
	})

	newLogger := observability.NewLogger
	if oneShot {
		newLogger = observability.NewConsoleLogger
	}
	logger, err := newLogger()
	if err != nil {
		fmt.Fprintf(stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = observability.FlushTelemetry(context.Background(), logger) }()

	var cfg *config.Config
	if *configDir != "" {
		cfg, err = config.LoadFrom(*configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logger.Error("config", zap.Error(err))
		return 1
	}

	a, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup", zap.Error(err))
		return 1
	}
	defer a.Close(logger)

	if oneShot {
		return lookupOnce(ctx, a, logger, *city, stdout)
	}
	if err := serve(ctx, a, logger); err != nil {
		logger.Error("server", zap.Error(err))
		return 1
	}
	return 0
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	weatherClient, err := client.NewOpenWeatherClientWithOptions(cfg.WeatherAPIKey, cfg.WeatherAPIURL, client.Options{
		Lang:           cfg.WeatherAPILang,
		IconURL:        cfg.WeatherIconURL,
		Timeout:        cfg.WeatherAPITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("weather client: %w", err)
	}

	a := &app{cfg: cfg, client: weatherClient}

	c, closeCache, err := cache.Open(ctx, cache.Settings{
		Backend:               cfg.CacheBackend,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
		Redis: cache.RedisOptions{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			DialTimeout: cfg.RedisDialTimeout,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	a.cache = c
	a.closeFns = append(a.closeFns, closeCache)
	if p, ok := c.(interface{ Ping(context.Context) error }); ok {
		a.cachePing = p.Ping
	}

	store, err := history.Open(cfg.HistoryDriver, cfg.HistoryDSN)
	if err != nil {
		a.Close(logger)
		return nil, fmt.Errorf("history: %w", err)
	}
	a.store = store
	a.closeFns = append(a.closeFns, store.Close)
	logger.Info("history store ready", zap.String("driver", cfg.HistoryDriver))

	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	a.lookups = service.NewLookupService(weatherClient, c, store, service.Options{
		CacheTTL:      cfg.CacheTTL,
		HistoryLimit:  cfg.HistoryLimit,
		CityMinLength: cfg.CityMinLength,
		CityMaxLength: cfg.CityMaxLength,
	}, logger)
	return a, nil
}

// lookupOnce prints one lookup and the recent history. Exit code 1 when the lookup fails.
func lookupOnce(ctx context.Context, a *app, logger *zap.Logger, city string, stdout io.Writer) int {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()

	code := 0
	var v view.View
	res, err := a.lookups.Lookup(ctx, city)
	if err != nil {
		v = view.FromError(err)
		code = 1
	} else {
		v = view.FromResult(res, a.client.IconURL)
	}

	recent, histErr := a.lookups.Recent(ctx)
	if histErr != nil {
		logger.Warn("history read failed", zap.Error(histErr))
		recent = nil
	}
	if err := view.RenderText(stdout, v, recent); err != nil {
		return 1
	}
	return code
}

func serve(ctx context.Context, a *app, logger *zap.Logger) error {
	cfg := a.cfg
	state := lifecycle.New()

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(a.lookups, a.client, a.client.IconURL, state, &httphandler.HealthConfig{
		CachePing: a.cachePing,
	}, logger)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("cache_backend", a.cache.Name()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("graceful shutdown triggered")
	state.BeginShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if n := httphandler.InFlightCount(); n > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", n))
		if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
	}
	logger.Info("shutdown complete")
	return nil
}
