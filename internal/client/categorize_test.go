package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// TestCategorizeError verifies that CategorizeError maps errors to the
// correct ErrorCategory for metrics labeling. Classification is by kind
// only, so wrapped sentinels must match and message text must not.
func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"source timeout", ErrSourceTimeout, ErrorCategoryTimeout},
		{"wrapped source timeout", fmt.Errorf("fetch: %w", ErrSourceTimeout), ErrorCategoryTimeout},
		{"place not found", ErrPlaceNotFound, ErrorCategoryPlaceNotFound},
		{"rate limited sentinel", ErrSourceRateLimited, ErrorCategoryRateLimited},
		{"rate limited typed", &RateLimitError{RetryAfter: 30 * time.Second}, ErrorCategoryRateLimited},
		{"unavailable", ErrSourceUnavailable, ErrorCategoryUnavailable},
		{"wrapped unavailable", fmt.Errorf("%w: HTTP 502", ErrSourceUnavailable), ErrorCategoryUnavailable},
		{"timeout only in message", errors.New("request timeout"), ErrorCategoryUnknown},
		{"unknown", errors.New("boom"), ErrorCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
