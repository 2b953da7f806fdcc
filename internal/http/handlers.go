package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/history"
	"github.com/kjstillabower/weather-lookup/internal/lifecycle"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/service"
	"github.com/kjstillabower/weather-lookup/internal/view"
)

// HealthConfig holds optional dependency probes for the health handler.
type HealthConfig struct {
	// CachePing, when set, is called to check cache reachability. Set for remote backends only.
	CachePing func(ctx context.Context) error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	lookups          *service.LookupService
	client           client.WeatherClient
	icon             view.IconFunc
	state            *lifecycle.State
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. icon builds weather icon URLs; state may be nil.
func NewHandler(
	lookups *service.LookupService,
	weatherClient client.WeatherClient,
	icon view.IconFunc,
	state *lifecycle.State,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if state == nil {
		state = lifecycle.New()
	}
	return &Handler{
		lookups:      lookups,
		client:       weatherClient,
		icon:         icon,
		state:        state,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// historyEntry is one row of the lookup log as served over HTTP.
type historyEntry struct {
	City        string    `json:"city"`
	Temperature float64   `json:"temperature"`
	Humidity    int       `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	CapturedAt  time.Time `json:"capturedAt"`
	Text        string    `json:"text"`
}

func toHistoryEntries(obs []models.Observation) []historyEntry {
	out := make([]historyEntry, 0, len(obs))
	for _, o := range obs {
		out = append(out, historyEntry{
			City:        o.City,
			Temperature: o.Temperature,
			Humidity:    o.Humidity,
			WindSpeed:   o.WindSpeed,
			CapturedAt:  o.CapturedAt,
			Text:        view.HistoryLine(o),
		})
	}
	return out
}

type weatherResponse struct {
	Weather view.View      `json:"weather"`
	History []historyEntry `json:"history"`
}

// Index handles GET /. Without a city query it shows the empty window; with one it
// performs a lookup and renders the result with recent history.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v := view.Placeholder()
	city := q.Get("city")
	if q.Has("city") {
		v = h.lookup(r.Context(), city)
	}

	page := view.NewPage(city, v, h.recent(r.Context()))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := view.RenderHTML(w, page); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Error("render page", zap.Error(err))
	}
}

func (h *Handler) lookup(ctx context.Context, city string) view.View {
	res, err := h.lookups.Lookup(ctx, city)
	if err != nil {
		return view.FromError(err)
	}
	return view.FromResult(res, h.icon)
}

// recent reads history for display. A failing store yields an empty list.
func (h *Handler) recent(ctx context.Context) []models.Observation {
	obs, err := h.lookups.Recent(ctx)
	if err != nil {
		observability.LoggerFromContext(ctx, h.logger).Warn("history read failed", zap.Error(err))
		return nil
	}
	return obs
}

// GetWeather handles GET /weather/{city}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]

	res, err := h.lookups.Lookup(r.Context(), city)
	if err != nil {
		writeLookupError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{
		Weather: view.FromResult(res, h.icon),
		History: toHistoryEntries(h.recent(r.Context())),
	})
}

// GetHistory handles GET /history?limit=n.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > history.MaxLimit {
			writeError(w, r, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and "+strconv.Itoa(history.MaxLimit))
			return
		}
		limit = n
	}

	obs, err := h.lookups.RecentN(r.Context(), limit)
	if err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Warn("history read failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "HISTORY_UNAVAILABLE", "Unable to read lookup history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": toHistoryEntries(obs),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-lookup",
		"version":   version,
		"checks":    result.checks,
		"uptime":    h.state.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > weather API key invalid or unreachable > dependency failure > healthy.
// Cache and history failures report degraded with 200 since lookups still succeed without them.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if h.state.ShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", map[string]string{}}
	}

	checks := map[string]string{"weatherApi": "healthy"}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		checks["weatherApi"] = "unhealthy"
		reason := "weather_api_unreachable"
		if errors.Is(err, client.ErrInvalidAPIKey) {
			reason = "api_key_invalid"
		}
		return healthResult{"degraded", http.StatusServiceUnavailable, reason, checks}
	}

	result := healthResult{"healthy", http.StatusOK, "", checks}
	checks["cacheBackend"] = h.lookups.CacheBackend()
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if err := h.healthConfig.CachePing(ctx); err != nil {
			checks["cache"] = "unhealthy"
			result.status, result.reason = "degraded", "cache_unreachable"
		} else {
			checks["cache"] = "healthy"
		}
	}
	if err := h.lookups.Ready(ctx); err != nil {
		checks["history"] = "unhealthy"
		result.status, result.reason = "degraded", "history_unreachable"
	} else {
		checks["history"] = "healthy"
	}
	return result
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeLookupError maps a lookup failure to its status and carries the cleared view
// so clients can show the message where the temperature goes.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusBadGateway, "LOOKUP_FAILED"
	switch service.Classify(err) {
	case service.KindInvalidInput:
		status, code = http.StatusBadRequest, "INVALID_CITY"
	case service.KindConnectivity:
		status, code = http.StatusServiceUnavailable, "CONNECTIVITY"
	}
	v := view.FromError(err)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   v.Error,
			"requestId": observability.CorrelationID(r.Context()),
		},
		"weather": v,
	})
}
