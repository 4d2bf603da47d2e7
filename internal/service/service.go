package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-data-service/internal/audit"
	"github.com/kjstillabower/weather-data-service/internal/client"
	"github.com/kjstillabower/weather-data-service/internal/models"
	"github.com/kjstillabower/weather-data-service/internal/observability"
	"github.com/kjstillabower/weather-data-service/internal/storage"
	"github.com/kjstillabower/weather-data-service/internal/validation"
)

// ErrInvalidPlace is returned when the requested place fails validation.
var ErrInvalidPlace = errors.New("invalid place")

const (
	// auditAppendTimeout bounds the terminal append when the caller's
	// context is already done; terminal events must survive cancellation.
	auditAppendTimeout = 2 * time.Second

	defaultStatsWindow = 24 * time.Hour
	defaultEventLimit  = 50
	maxEventLimit      = 500
)

// Provenance describes how a served record was produced.
type Provenance struct {
	CacheHit        bool   `json:"cacheHit"`
	CacheAgeSeconds int64  `json:"cacheAgeSeconds"`
	StorageLocation string `json:"storageLocation,omitempty"`
	AuditEventID    string `json:"auditEventId,omitempty"`
}

// ComponentHealth is one dependency's view in a health report.
type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport aggregates dependency checks. Status is healthy when all
// components are up, degraded when reads can still be served, unhealthy
// when the durable store is gone.
type HealthReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// CacheStats reports cache effectiveness over a window plus the TTL the
// service is running with.
type CacheStats struct {
	TTLMinutes     int                 `json:"ttlMinutes"`
	WindowHours    int                 `json:"windowHours"`
	Hits           int                 `json:"hits"`
	Misses         int                 `json:"misses"`
	HitRatePercent float64             `json:"hitRatePercent"`
	TopPlaces      []models.PlaceCount `json:"topPlaces,omitempty"`
}

// Service orchestrates weather reads through the durable store with the
// external source as fallback. Every request terminates exactly one
// audit event; appends are best-effort and never fail a request.
type Service struct {
	source   client.SourceClient
	store    storage.Store
	audit    audit.Log
	cacheTTL time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(source client.SourceClient, store storage.Store, auditLog audit.Log, cacheTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		source:   source,
		store:    store,
		audit:    auditLog,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// GetWeather serves the freshest record for place, from the store when a
// non-expired entry exists and from the external source otherwise. A
// fetched record is persisted before it is returned; a persistence fault
// fails the request. Client and store-write errors propagate unchanged.
func (s *Service) GetWeather(ctx context.Context, place string) (models.WeatherRecord, Provenance, error) {
	validated, err := validation.ValidatePlace(place)
	if err != nil {
		return models.WeatherRecord{}, Provenance{}, fmt.Errorf("%w: %v", ErrInvalidPlace, err)
	}
	key := strings.ToLower(validated)
	start := s.now()

	// The pending event exists before any I/O so every outcome below
	// terminates the same value.
	event := models.NewRequestEvent(key, validated, start)

	entry, ok, readErr := s.store.ReadFresh(ctx, key, s.cacheTTL)
	if readErr != nil {
		// Read faults fold into a miss here and nowhere else.
		s.logger.Warn("cache read fault, treating as miss",
			zap.String("place", key), zap.Error(readErr))
	}
	if ok {
		age := int64(entry.Age(s.now()).Seconds())
		terminal := event.Succeeded("", map[string]any{
			models.MetaCacheHit:     true,
			models.MetaExternalCall: false,
			models.MetaCacheAgeSec:  age,
		})
		eventID := s.appendEvent(ctx, terminal)
		observability.WeatherRequestsTotal.WithLabelValues("hit").Inc()
		observability.CacheHitsTotal.Inc()
		observability.CacheAgeSeconds.Observe(float64(age))
		s.logger.Debug("cache hit", zap.String("place", key), zap.Int64("ageSeconds", age))
		return entry.Record, Provenance{
			CacheHit:        true,
			CacheAgeSeconds: age,
			AuditEventID:    eventID,
		}, nil
	}

	s.logger.Debug("cache miss, fetching from source", zap.String("place", key))
	record, fetchErr := s.source.FetchRecord(ctx, validated)
	if fetchErr != nil {
		return models.WeatherRecord{}, Provenance{}, s.failRequest(ctx, event, start, fetchErr)
	}

	location, writeErr := s.store.Write(ctx, record)
	if writeErr != nil {
		return models.WeatherRecord{}, Provenance{}, s.failRequest(ctx, event, start, writeErr)
	}

	elapsed := s.now().Sub(start)
	terminal := event.Succeeded(location, map[string]any{
		models.MetaCacheHit:     false,
		models.MetaExternalCall: true,
		models.MetaDurationMs:   elapsed.Milliseconds(),
	})
	eventID := s.appendEvent(ctx, terminal)
	observability.WeatherRequestsTotal.WithLabelValues("miss").Inc()
	observability.CacheMissesTotal.Inc()
	s.logger.Info("weather fetched and cached",
		zap.String("place", key),
		zap.String("location", location),
		zap.Duration("duration", elapsed))
	return record, Provenance{
		StorageLocation: location,
		AuditEventID:    eventID,
	}, nil
}

// failRequest terminates the event as failed, appends it best-effort,
// and re-raises the original error unchanged.
func (s *Service) failRequest(ctx context.Context, event models.AuditEvent, start time.Time, cause error) error {
	elapsed := s.now().Sub(start)
	kind := ErrorKind(cause)
	terminal := event.Failed(cause.Error(), map[string]any{
		models.MetaErrorType:    kind,
		models.MetaCacheHit:     false,
		models.MetaExternalCall: true,
		models.MetaDurationMs:   elapsed.Milliseconds(),
	})
	s.appendEvent(ctx, terminal)
	observability.WeatherRequestsTotal.WithLabelValues("failed").Inc()
	s.logger.Warn("weather request failed",
		zap.String("place", event.Place),
		zap.String("errorType", kind),
		zap.Error(cause))
	return cause
}

// appendEvent records a terminal event. Append faults are counted,
// logged, and swallowed; a lost audit row must not fail a served
// request. When the caller's context is already done the append runs on
// a short detached timeout instead.
func (s *Service) appendEvent(ctx context.Context, event models.AuditEvent) string {
	if ctx.Err() != nil {
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditAppendTimeout)
		defer cancel()
		ctx = detached
	}
	id, err := s.audit.Append(ctx, event)
	if err != nil {
		observability.AuditAppendFailuresTotal.Inc()
		s.logger.Warn("audit append failed",
			zap.String("place", event.Place),
			zap.String("status", string(event.Status)),
			zap.Error(err))
		return ""
	}
	return id
}

// HealthCheck probes each dependency independently. The store carries
// both the hit and the miss path, so a store fault marks the service
// unhealthy; a source or audit fault only degrades it.
func (s *Service) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{
		Components: make(map[string]ComponentHealth, 3),
		Timestamp:  s.now().UTC(),
	}

	sourceUp := true
	if err := s.source.ProbeSource(ctx); err != nil && !errors.Is(err, client.ErrPlaceNotFound) {
		sourceUp = false
		report.Components["externalSource"] = ComponentHealth{Status: "down", Detail: err.Error()}
	} else {
		report.Components["externalSource"] = ComponentHealth{Status: "up"}
	}

	storeUp := s.store.IsHealthy(ctx)
	if storeUp {
		report.Components["durableStore"] = ComponentHealth{Status: "up"}
	} else {
		report.Components["durableStore"] = ComponentHealth{Status: "down"}
	}

	auditUp := s.audit.IsHealthy(ctx)
	if auditUp {
		report.Components["auditLog"] = ComponentHealth{Status: "up"}
	} else {
		report.Components["auditLog"] = ComponentHealth{Status: "down"}
	}

	switch {
	case !storeUp:
		report.Status = "unhealthy"
	case !sourceUp || !auditUp:
		report.Status = "degraded"
	default:
		report.Status = "healthy"
	}
	return report
}

// CacheStats reports hit/miss effectiveness over the default window
// alongside the configured TTL.
func (s *Service) CacheStats(ctx context.Context) (CacheStats, error) {
	stats, err := s.audit.AggregateStats(ctx, defaultStatsWindow)
	if err != nil {
		return CacheStats{}, fmt.Errorf("aggregate cache stats: %w", err)
	}
	return CacheStats{
		TTLMinutes:     int(s.cacheTTL.Minutes()),
		WindowHours:    stats.PeriodHours,
		Hits:           stats.CacheHits,
		Misses:         stats.CacheMisses,
		HitRatePercent: stats.CacheHitRate(),
		TopPlaces:      stats.TopPlaces,
	}, nil
}

// InvalidateExpired removes entries past the TTL from the store and
// returns how many were dropped.
func (s *Service) InvalidateExpired(ctx context.Context) (int, error) {
	removed, err := s.store.PurgeExpired(ctx, s.cacheTTL)
	if err != nil {
		return 0, fmt.Errorf("purge expired entries: %w", err)
	}
	if removed > 0 {
		observability.StorePurgedEntriesTotal.Add(float64(removed))
		s.logger.Info("expired cache entries removed", zap.Int("removed", removed))
	}
	return removed, nil
}

// RecentEvents returns audit events in the window, newest first,
// optionally filtered by place.
func (s *Service) RecentEvents(ctx context.Context, place string, windowHours, limit int) ([]models.EventSummary, error) {
	if windowHours <= 0 {
		windowHours = int(defaultStatsWindow.Hours())
	}
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	events, err := s.audit.RecentEvents(ctx, strings.TrimSpace(place), time.Duration(windowHours)*time.Hour, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	return events, nil
}

// Stats aggregates audit events over the window.
func (s *Service) Stats(ctx context.Context, windowHours int) (models.RequestStats, error) {
	if windowHours <= 0 {
		windowHours = int(defaultStatsWindow.Hours())
	}
	stats, err := s.audit.AggregateStats(ctx, time.Duration(windowHours)*time.Hour)
	if err != nil {
		return models.RequestStats{}, fmt.Errorf("aggregate event stats: %w", err)
	}
	return stats, nil
}

// ErrorKind labels an error for audit metadata, logs, and API bodies.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPlace):
		return "invalid_place"
	case errors.Is(err, client.ErrPlaceNotFound):
		return "place_not_found"
	case errors.Is(err, client.ErrSourceRateLimited):
		return "rate_limited"
	case errors.Is(err, client.ErrSourceTimeout):
		return "source_timeout"
	case errors.Is(err, client.ErrSourceUnavailable):
		return "source_unavailable"
	case errors.Is(err, storage.ErrPersistenceFailed):
		return "persistence_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
