package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-lookup/internal/observability"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"generated", ""},
		{"propagated", "caller-supplied-id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zap.InfoLevel)
			var seen string
			h := CorrelationIDMiddleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = observability.CorrelationID(r.Context())
				observability.LoggerFromContext(r.Context(), nil).Info("inside")
			}))

			req := httptest.NewRequest("GET", "/weather/paris", nil)
			if tc.header != "" {
				req.Header.Set("X-Correlation-ID", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get("X-Correlation-ID")
			if got == "" || got != seen {
				t.Errorf("header %q, context %q; want equal and non-empty", got, seen)
			}
			if tc.header != "" && got != tc.header {
				t.Errorf("correlation id = %q, want %q", got, tc.header)
			}
			entries := logs.FilterMessage("inside").All()
			if len(entries) != 1 || entries[0].ContextMap()["correlation_id"] != got {
				t.Errorf("request logger missing correlation_id: %v", entries)
			}
		})
	}
}

func TestGetRoute_UsesTemplate(t *testing.T) {
	var route string
	router := mux.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route = getRoute(r)
			next.ServeHTTP(w, r)
		})
	})
	router.HandleFunc("/weather/{city}", func(w http.ResponseWriter, r *http.Request) {})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/Moscow", nil))
	if route != "/weather/{city}" {
		t.Errorf("getRoute() = %q, want /weather/{city}", route)
	}

	if got := getRoute(httptest.NewRequest("GET", "/nope", nil)); got != "unmatched" {
		t.Errorf("getRoute() without route = %q, want unmatched", got)
	}
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/weather/x", nil))
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 passed through", w.Code)
	}
	if statusCodeString(http.StatusBadGateway) != "5xx" {
		t.Errorf("statusCodeString(502) = %q", statusCodeString(http.StatusBadGateway))
	}
}

func TestTimeoutMiddleware_CancelsContextAfterTimeout(t *testing.T) {
	var ctxErr error
	h := TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		ctxErr = r.Context().Err()
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/weather/x", nil))
	if ctxErr != context.DeadlineExceeded {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", ctxErr)
	}
}

func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	h := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/weather/x", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK {
		t.Errorf("first request = %d, want 200", codes[0])
	}
	if codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Errorf("burst exceeded codes = %v, want 429", codes[1:])
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	h := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		if w.Code != http.StatusTeapot {
			t.Fatalf("request %d = %d, want pass-through", i, w.Code)
		}
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	f := newFixture(t, &mockWeatherClient{weather: paris}, nil)
	w := f.serve(httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", w.Code)
	}
}

func TestRouter_LookupRoutesRateLimited(t *testing.T) {
	f := newFixture(t, &mockWeatherClient{weather: paris}, nil)
	router := NewRouter(f.handler, zap.NewNop(), rate.NewLimiter(rate.Limit(0.001), 1), time.Second)

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest("GET", "/weather/Paris", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest("GET", "/?city=Paris", nil))
	health := httptest.NewRecorder()
	router.ServeHTTP(health, httptest.NewRequest("GET", "/health", nil))

	if first.Code != http.StatusOK {
		t.Errorf("first lookup = %d, want 200", first.Code)
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("window lookup after burst = %d, want 429", second.Code)
	}
	if health.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200 (not rate limited)", health.Code)
	}
}
