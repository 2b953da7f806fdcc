package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (app down) or 5xx spikes.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// OpenWeatherMap API call rate by outcome (success, client_error, server_error, rate_limited, error).
	WeatherAPICallsTotal *prometheus.CounterVec

	// External API latency per call. Watch for: p95 near weather_api.timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts for weather API (zero unless retry_max_attempts > 1).
	WeatherAPIRetriesTotal prometheus.Counter

	// Cache hits and misses per backend. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache operation failures by op (get, set) and backend. Failures never fail a lookup.
	CacheErrorsTotal *prometheus.CounterVec

	// Lookups by outcome kind (ok, invalid_input, connectivity, other).
	LookupsTotal *prometheus.CounterVec

	// Per-city lookup count (allow-list; others go to "other").
	LookupsByLocationTotal *prometheus.CounterVec

	// History appends by status (success, error). Appends are best effort.
	HistoryAppendsTotal *prometheus.CounterVec

	// History store latency by op (append, recent).
	HistoryDuration *prometheus.HistogramVec

	// Rate limit denials on lookup routes.
	RateLimitDeniedTotal prometheus.Counter

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"backend"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Total number of failed cache operations",
		},
		[]string{"op", "backend"},
	)
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookupsTotal",
			Help: "Total number of weather lookups by outcome",
		},
		[]string{"outcome"},
	)
	LookupsByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lookupsByLocationTotal",
			Help: "Weather lookups by city (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	HistoryAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historyAppendsTotal",
			Help: "Total number of history appends by status",
		},
		[]string{"status"},
	)
	HistoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historyOperationDurationSeconds",
			Help:    "History store latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"op"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		LookupsTotal, LookupsByLocationTotal,
		HistoryAppendsTotal, HistoryDuration,
		RateLimitDeniedTotal,
	)
}

// SetTrackedLocations sets the allow-list for per-city metrics. Non-tracked cities increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// MetricLocationLabel returns the location label for metrics: the normalized city if tracked, else "other".
func MetricLocationLabel(location string) string {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc] // nil map read is safe in Go
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

// RecordLookup records a lookup for city with the given outcome.
func RecordLookup(city, outcome string) {
	LookupsTotal.WithLabelValues(outcome).Inc()
	LookupsByLocationTotal.WithLabelValues(MetricLocationLabel(city)).Inc()
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
