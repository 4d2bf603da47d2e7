package client

import (
	"context"
	"errors"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as status labels on externalSourceCallsTotal
// when the round trip itself fails and there is no HTTP status to map.
const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryPlaceNotFound ErrorCategory = "place_not_found"
	ErrorCategoryRateLimited   ErrorCategory = "rate_limited"
	ErrorCategoryUnavailable   ErrorCategory = "unavailable"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory. Matching is
// by error kind, never by message text.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrSourceTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrPlaceNotFound):
		return ErrorCategoryPlaceNotFound
	case errors.Is(err, ErrSourceRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrSourceUnavailable):
		return ErrorCategoryUnavailable
	}

	return ErrorCategoryUnknown
}
