package models

import "time"

// EventType tags the kind of audit event. There is a single variant
// today; the column exists so the log can absorb new kinds without a
// schema change.
type EventType string

const EventWeatherRequest EventType = "weather_request"

// EventStatus is the lifecycle of an audit event. Transitions are
// pending to success or pending to failed, never reversed.
type EventStatus string

const (
	StatusPending EventStatus = "pending"
	StatusSuccess EventStatus = "success"
	StatusFailed  EventStatus = "failed"
)

// Metadata keys shared between the orchestrator (which writes them) and
// the audit backends (which project some of them into columns).
const (
	MetaCacheHit     = "cacheHit"
	MetaExternalCall = "externalCall"
	MetaDurationMs   = "processingDurationMs"
	MetaCacheAgeSec  = "cacheAgeSeconds"
	MetaErrorType    = "errorType"
)

// AuditEvent records one orchestration attempt. The orchestrator owns
// the value for the lifetime of a request; the audit log owns the
// persisted copy. EventID is left empty at construction and assigned by
// the audit backend on append.
type AuditEvent struct {
	EventID         string         `json:"eventId,omitempty"`
	EventType       EventType      `json:"eventType"`
	Place           string         `json:"place"`
	PlaceDisplay    string         `json:"placeDisplay,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	Status          EventStatus    `json:"status"`
	StorageLocation string         `json:"storageLocation,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewRequestEvent returns a pending weather_request event stamped now.
func NewRequestEvent(place, display string, now time.Time) AuditEvent {
	return AuditEvent{
		EventType:    EventWeatherRequest,
		Place:        place,
		PlaceDisplay: display,
		Timestamp:    now.UTC(),
		Status:       StatusPending,
		Metadata:     map[string]any{},
	}
}

// Succeeded returns a terminal copy of the event. The receiver is not
// modified, so a pending value can never be observed flipping state.
func (e AuditEvent) Succeeded(location string, meta map[string]any) AuditEvent {
	e.Status = StatusSuccess
	e.StorageLocation = location
	e.Metadata = mergeMeta(e.Metadata, meta)
	return e
}

// Failed returns a terminal copy carrying the error text.
func (e AuditEvent) Failed(errMsg string, meta map[string]any) AuditEvent {
	e.Status = StatusFailed
	e.ErrorMessage = errMsg
	e.Metadata = mergeMeta(e.Metadata, meta)
	return e
}

func mergeMeta(base, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

// EventSummary is the row shape returned by recent-event queries.
type EventSummary struct {
	EventID    string      `json:"eventId"`
	Place      string      `json:"place"`
	Timestamp  time.Time   `json:"timestamp"`
	Status     EventStatus `json:"status"`
	DurationMs int64       `json:"durationMs"`
	CacheHit   bool        `json:"cacheHit"`
	Error      string      `json:"error,omitempty"`
}

// PlaceCount is one entry of a most-requested ranking.
type PlaceCount struct {
	Place    string `json:"place"`
	Requests int    `json:"requests"`
}

// RequestStats aggregates audit events over a window.
type RequestStats struct {
	TotalRequests int          `json:"totalRequests"`
	Succeeded     int          `json:"succeeded"`
	Failed        int          `json:"failed"`
	CacheHits     int          `json:"cacheHits"`
	CacheMisses   int          `json:"cacheMisses"`
	AvgDurationMs float64      `json:"avgDurationMs"`
	PeriodHours   int          `json:"periodHours"`
	TopPlaces     []PlaceCount `json:"topPlaces"`
}

// SuccessRate is the percentage of requests that succeeded.
func (s RequestStats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.TotalRequests) * 100
}

// CacheHitRate is the percentage of cache lookups that hit.
func (s RequestStats) CacheHitRate() float64 {
	lookups := s.CacheHits + s.CacheMisses
	if lookups == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(lookups) * 100
}
