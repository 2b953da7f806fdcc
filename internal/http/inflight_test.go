package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInFlightTracker_Count(t *testing.T) {
	tracker := &InFlightTracker{}

	steps := []struct {
		op   func()
		want int64
	}{
		{func() {}, 0},
		{tracker.Increment, 1},
		{tracker.Increment, 2},
		{tracker.Decrement, 1},
		{tracker.Decrement, 0},
	}
	for i, s := range steps {
		s.op()
		if got := tracker.Count(); got != s.want {
			t.Errorf("step %d: Count() = %d, want %d", i, got, s.want)
		}
	}
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tracker.WaitForZero(ctx, 5*time.Millisecond) }()

	time.Sleep(10 * time.Millisecond)
	tracker.Decrement()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForZero() error = %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("WaitForZero did not return after count reached zero")
	}
}

func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.WaitForZero(ctx, 5*time.Millisecond); err == nil {
		t.Error("WaitForZero expected context error, got nil")
	}
}

// TestMetricsMiddleware_TracksInFlight verifies requests are counted while being served.
func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
	}))

	before := InFlightCount()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

	if during != before+1 {
		t.Errorf("in-flight during request = %d, want %d", during, before+1)
	}
	if got := InFlightCount(); got != before {
		t.Errorf("in-flight after request = %d, want %d", got, before)
	}
}
