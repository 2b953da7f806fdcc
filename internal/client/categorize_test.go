package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"deadline", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"connectivity timeout", fmt.Errorf("%w: %v", ErrConnectivity, "Get \"x\": context deadline exceeded (Client.Timeout exceeded)"), ErrorCategoryTimeout},
		{"connectivity refused", fmt.Errorf("%w: %v", ErrConnectivity, "dial tcp: connection refused"), ErrorCategoryNetwork},
		{"canceled", context.Canceled, ErrorCategoryCanceled},
		{"invalid API key", &APIError{StatusCode: 401, kind: ErrInvalidAPIKey}, ErrorCategoryInvalidAPIKey},
		{"city not found", &APIError{StatusCode: 404, Message: "city not found", kind: ErrCityNotFound}, ErrorCategoryCityNotFound},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream", fmt.Errorf("exhausted retries: %w", &APIError{StatusCode: 502, kind: ErrUpstreamFailure}), ErrorCategoryUpstream},
		{"parse", errors.New("parse response: invalid character"), ErrorCategoryParsing},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsConnectivity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped connectivity", fmt.Errorf("fetch: %w", ErrConnectivity), true},
		{"deadline", context.DeadlineExceeded, true},
		{"api error", &APIError{StatusCode: 404, kind: ErrCityNotFound}, false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectivity(tt.err); got != tt.want {
				t.Errorf("IsConnectivity() = %v, want %v", got, tt.want)
			}
		})
	}
}
