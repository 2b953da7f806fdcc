package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
)

func TestLoggerFromContext(t *testing.T) {
	fallback := zap.NewExample()
	if got := LoggerFromContext(context.Background(), fallback); got != fallback {
		t.Error("LoggerFromContext() without logger should return fallback")
	}
	if got := LoggerFromContext(context.Background(), nil); got == nil {
		t.Error("LoggerFromContext() with nil fallback should return a no-op logger")
	}

	reqLogger := zap.NewNop()
	ctx := WithLogger(context.Background(), reqLogger)
	if got := LoggerFromContext(ctx, fallback); got != reqLogger {
		t.Error("LoggerFromContext() should prefer the request logger")
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID() = %q, want empty", got)
	}
	ctx := WithCorrelationID(context.Background(), "abc-123")
	if got := CorrelationID(ctx); got != "abc-123" {
		t.Errorf("CorrelationID() = %q, want abc-123", got)
	}
}
