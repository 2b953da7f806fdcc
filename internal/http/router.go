package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup/internal/observability"
)

// NewRouter mounts the window page, the JSON lookup API, history, health and metrics.
// Lookup routes are rate limited and bounded by requestTimeout.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/history", h.GetHistory).Methods(http.MethodGet)

	lookup := func(fn http.HandlerFunc) http.Handler {
		return RateLimitMiddleware(limiter)(TimeoutMiddleware(requestTimeout)(fn))
	}
	router.Handle("/", lookup(h.Index)).Methods(http.MethodGet)

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(limiter))
	weatherRouter.Use(TimeoutMiddleware(requestTimeout))
	weatherRouter.HandleFunc("/{city}", h.GetWeather).Methods(http.MethodGet)

	return router
}
