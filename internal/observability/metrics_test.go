package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, http, and service packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality (e.g. /weather/{place} not /weather/london)
	HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/weather/{place}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/v1/weather/{place}").Observe(0.01)
	WeatherRequestsTotal.WithLabelValues("hit").Inc()
	WeatherRequestsTotal.WithLabelValues("miss").Inc()
	WeatherRequestsTotal.WithLabelValues("failed").Inc()
	CacheHitsTotal.Inc()
	CacheMissesTotal.Inc()
	CacheAgeSeconds.Observe(120)
	ExternalSourceCallsTotal.WithLabelValues("success").Inc()
	ExternalSourceCallsTotal.WithLabelValues("error").Inc()
	ExternalSourceCallDuration.WithLabelValues("success").Observe(0.1)
	CircuitBreakerRejectionsTotal.Inc()
	CircuitBreakerFailureCount.Set(3)
	AuditAppendFailuresTotal.Inc()
	StorePurgedEntriesTotal.Add(2)
	AuditPurgedEventsTotal.Add(5)
	RateLimitedTotal.Inc()
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/health", "2xx").Inc()

	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain application metrics")
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("MetricsHandler response should contain runtime metrics")
	}
}
