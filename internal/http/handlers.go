package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-data-service/internal/client"
	"github.com/kjstillabower/weather-data-service/internal/models"
	"github.com/kjstillabower/weather-data-service/internal/observability"
	"github.com/kjstillabower/weather-data-service/internal/service"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc       *service.Service
	readiness *Readiness
	logger    *zap.Logger

	healthMu   sync.Mutex
	healthPrev string
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.Service, readiness *Readiness, logger *zap.Logger) *Handler {
	return &Handler{
		svc:       svc,
		readiness: readiness,
		logger:    logger,
	}
}

// NewRouter wires routes and middleware. Health, readiness, and metrics
// stay outside the rate limiter so probes keep working under load; the
// data routes additionally carry the per-request timeout.
func NewRouter(h *Handler, limiter *rate.Limiter, tracker *InFlightTracker, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware(tracker))
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	api.HandleFunc("/health/ready", h.GetReady).Methods(http.MethodGet)

	data := api.NewRoute().Subrouter()
	data.Use(RateLimitMiddleware(limiter))
	data.Use(TimeoutMiddleware(requestTimeout))
	data.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	data.HandleFunc("/weather/{place}", h.GetWeather).Methods(http.MethodGet)
	data.HandleFunc("/cache/stats", h.GetCacheStats).Methods(http.MethodGet)
	data.HandleFunc("/cache/invalidate", h.PostCacheInvalidate).Methods(http.MethodPost)
	data.HandleFunc("/events/recent", h.GetRecentEvents).Methods(http.MethodGet)
	data.HandleFunc("/events/stats", h.GetEventStats).Methods(http.MethodGet)

	return r
}

type weatherResponse struct {
	Record     models.WeatherRecord `json:"record"`
	Provenance service.Provenance   `json:"provenance"`
}

// GetWeather handles GET /api/v1/weather?place=X and /api/v1/weather/{place}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	place := mux.Vars(r)["place"]
	if place == "" {
		place = r.URL.Query().Get("place")
	}

	record, prov, err := h.svc.GetWeather(r.Context(), place)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, weatherResponse{Record: record, Provenance: prov})
}

// GetHealth handles GET /api/v1/health. Degraded still answers 200; only
// a dead store (no read or write path left) reports 503.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	report := h.svc.HealthCheck(r.Context())

	h.healthMu.Lock()
	if h.healthPrev != "" && h.healthPrev != report.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", h.healthPrev),
			zap.String("current_status", report.Status))
	}
	h.healthPrev = report.Status
	h.healthMu.Unlock()

	status := http.StatusOK
	if report.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

// GetReady handles GET /api/v1/health/ready. 503 while starting up or
// draining so load balancers route around this instance.
func (h *Handler) GetReady(w http.ResponseWriter, r *http.Request) {
	if h.readiness.Ready() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
}

// GetCacheStats handles GET /api/v1/cache/stats.
func (h *Handler) GetCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.CacheStats(r.Context())
	if err != nil {
		loggerFrom(r.Context(), h.logger).Error("cache stats failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "STATS_UNAVAILABLE", "could not aggregate cache statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// PostCacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) PostCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	removed, err := h.svc.InvalidateExpired(r.Context())
	if err != nil {
		loggerFrom(r.Context(), h.logger).Error("cache invalidation failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INVALIDATE_FAILED", "could not purge expired entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// GetRecentEvents handles GET /api/v1/events/recent?place=&hours=&limit=.
func (h *Handler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	events, err := h.svc.RecentEvents(r.Context(), r.URL.Query().Get("place"), hours, limit)
	if err != nil {
		loggerFrom(r.Context(), h.logger).Error("recent events query failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "EVENTS_UNAVAILABLE", "could not query recent events")
		return
	}
	if events == nil {
		events = []models.EventSummary{}
	}
	writeJSON(w, http.StatusOK, events)
}

type statsResponse struct {
	models.RequestStats
	SuccessRatePercent  float64 `json:"successRatePercent"`
	CacheHitRatePercent float64 `json:"cacheHitRatePercent"`
}

// GetEventStats handles GET /api/v1/events/stats?hours=.
func (h *Handler) GetEventStats(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}

	stats, err := h.svc.Stats(r.Context(), hours)
	if err != nil {
		loggerFrom(r.Context(), h.logger).Error("event stats query failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "STATS_UNAVAILABLE", "could not aggregate event statistics")
		return
	}
	if stats.TopPlaces == nil {
		stats.TopPlaces = []models.PlaceCount{}
	}
	writeJSON(w, http.StatusOK, statsResponse{
		RequestStats:        stats,
		SuccessRatePercent:  stats.SuccessRate(),
		CacheHitRatePercent: stats.CacheHitRate(),
	})
}

// writeServiceError maps an orchestration error to an HTTP status by
// kind. Audit faults never reach this path; they are swallowed below.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := service.ErrorKind(err)
	status := statusForKind(kind)

	if status == http.StatusTooManyRequests {
		var rl *client.RateLimitError
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
	}

	logger := loggerFrom(r.Context(), h.logger)
	if status >= http.StatusInternalServerError {
		logger.Error("weather request failed", zap.String("kind", kind), zap.Error(err))
	} else {
		logger.Debug("weather request rejected", zap.String("kind", kind), zap.Error(err))
	}

	writeError(w, r, status, strings.ToUpper(kind), messageForKind(kind, err))
}

func statusForKind(kind string) int {
	switch kind {
	case "invalid_place":
		return http.StatusBadRequest
	case "place_not_found":
		return http.StatusNotFound
	case "rate_limited":
		return http.StatusTooManyRequests
	case "source_unavailable", "source_timeout":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func messageForKind(kind string, err error) string {
	switch kind {
	case "invalid_place":
		return err.Error()
	case "place_not_found":
		return "no weather data for that place"
	case "rate_limited":
		return "upstream rate limit hit, retry later"
	case "source_timeout":
		return "weather source timed out"
	case "source_unavailable":
		return "weather source unavailable"
	case "persistence_failed":
		return "could not persist fetched data"
	default:
		return "internal error"
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with
// code, message, and requestId (correlation ID) if available in context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID, _ = v.(string)
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

func loggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value("logger").(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
