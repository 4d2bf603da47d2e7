package audit

import (
	"context"
	"errors"
	"time"

	"github.com/kjstillabower/weather-data-service/internal/models"
)

// ErrAppendFailed marks audit write failures. Callers record the failure and
// carry on; an audit problem never fails the request that produced the event.
var ErrAppendFailed = errors.New("audit append failed")

// Log records request audit events and answers questions about them.
type Log interface {
	// Append stores event, assigning an event ID when the event carries
	// none, and returns the stored ID.
	Append(ctx context.Context, event models.AuditEvent) (string, error)

	// RecentEvents returns up to limit newest events within the window,
	// optionally restricted to place (empty means all places).
	RecentEvents(ctx context.Context, place string, window time.Duration, limit int) ([]models.EventSummary, error)

	// AggregateStats summarizes events within the window.
	AggregateStats(ctx context.Context, window time.Duration) (models.RequestStats, error)

	// PurgeOlderThan deletes events older than the retention period and
	// reports how many were deleted.
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int, error)

	// IsHealthy probes the backend with a cheap round trip.
	IsHealthy(ctx context.Context) bool
}

// metaInt64 reads a numeric metadata value regardless of how it was stored.
func metaInt64(meta map[string]any, key string) int64 {
	switch v := meta[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func metaBool(meta map[string]any, key string) bool {
	b, _ := meta[key].(bool)
	return b
}
