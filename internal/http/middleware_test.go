package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var gotCtxID string
	var gotLogger *zap.Logger
	handler := CorrelationIDMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCtxID, _ = r.Context().Value("correlation_id").(string)
		gotLogger, _ = r.Context().Value("logger").(*zap.Logger)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	headerID := w.Header().Get("X-Correlation-ID")
	if headerID == "" {
		t.Fatal("X-Correlation-ID header should be generated")
	}
	if gotCtxID != headerID {
		t.Errorf("context correlation_id = %q, want header value %q", gotCtxID, headerID)
	}
	if gotLogger == nil {
		t.Error("request-scoped logger missing from context")
	}
}

func TestCorrelationIDMiddleware_PreservesInboundID(t *testing.T) {
	handler := CorrelationIDMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "req-abc-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "req-abc-123" {
		t.Errorf("X-Correlation-ID = %q, want inbound value echoed", got)
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	tracker := &InFlightTracker{}
	var duringCount int64
	handler := MetricsMiddleware(tracker)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		duringCount = tracker.Count()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if duringCount != 1 {
		t.Errorf("in-flight during request = %d, want 1", duringCount)
	}
	if after := tracker.Count(); after != 0 {
		t.Errorf("in-flight after request = %d, want 0", after)
	}
}

func TestStatusRecorder(t *testing.T) {
	t.Run("records explicit status", func(t *testing.T) {
		rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
		rec.WriteHeader(http.StatusNotFound)
		if rec.statusCode != http.StatusNotFound {
			t.Errorf("statusCode = %d, want 404", rec.statusCode)
		}
	})
	t.Run("defaults to 200 when handler never writes a header", func(t *testing.T) {
		rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), statusCode: http.StatusOK}
		_, _ = rec.Write([]byte("ok"))
		if rec.statusCode != http.StatusOK {
			t.Errorf("statusCode = %d, want 200", rec.statusCode)
		}
	})
}

func TestStatusCodeString(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{503, "5xx"},
	}
	for _, tc := range tests {
		if got := statusCodeString(tc.code); got != tc.want {
			t.Errorf("statusCodeString(%d) = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestRouteTemplate(t *testing.T) {
	t.Run("returns the matched template", func(t *testing.T) {
		var got string
		r := mux.NewRouter()
		r.HandleFunc("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
			got = routeTemplate(r)
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/42", nil))
		if got != "/things/{id}" {
			t.Errorf("routeTemplate = %q, want /things/{id}", got)
		}
	})
	t.Run("falls back outside mux", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/whatever", nil)
		if got := routeTemplate(req); got != "unmatched" {
			t.Errorf("routeTemplate = %q, want unmatched", got)
		}
	})
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var deadline time.Time
	var hasDeadline bool
	handler := TimeoutMiddleware(5 * time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, hasDeadline = r.Context().Deadline()
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if !hasDeadline {
		t.Fatal("request context should carry a deadline")
	}
	if remaining := time.Until(deadline); remaining > 5*time.Second {
		t.Errorf("deadline %v away, want at most the configured timeout", remaining)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	handler := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	for i := 0; i < 10; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	if !called {
		t.Error("handler should run with rate limiting disabled")
	}
}

func TestRateLimitMiddleware_DeniesWhenExhausted(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(1), 1)
	handler := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if got := second.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}
