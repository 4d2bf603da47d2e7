package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/weather-data-service/internal/circuitbreaker"
)

func newTestBreaker() *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 5,
		ResetTimeout:     time.Minute,
		Component:        "external_source",
	})
}

func newTestClient(t *testing.T, serverURL string) *OpenWeatherClient {
	t.Helper()
	c, err := NewOpenWeatherClient("test-api-key-12345", serverURL, 2*time.Second, "", newTestBreaker())
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

func testPayload() map[string]interface{} {
	return map[string]interface{}{
		"name": "Seattle",
		"main": map[string]interface{}{
			"temp":     15.5,
			"humidity": 65,
			"pressure": 1013.25,
		},
		"weather": []map[string]interface{}{
			{
				"main":        "Clouds",
				"description": "scattered clouds",
			},
		},
		"wind": map[string]interface{}{
			"speed": 3.2,
			"deg":   180,
		},
		"visibility": 10000,
	}
}

func TestNewOpenWeatherClient_KeyValidation(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr bool
	}{
		{"empty API key", "", true},
		{"too short API key", "short", true},
		{"valid API key", "valid-api-key-12345", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewOpenWeatherClient(tt.apiKey, "https://api.test.com", 2*time.Second, "", newTestBreaker())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewOpenWeatherClient() expected error, got nil")
				}
				if c != nil {
					t.Errorf("NewOpenWeatherClient() expected nil client on error")
				}
			} else {
				if err != nil {
					t.Fatalf("NewOpenWeatherClient() unexpected error: %v", err)
				}
				if c == nil {
					t.Fatalf("NewOpenWeatherClient() expected client, got nil")
				}
			}
		})
	}
}

func TestOpenWeatherClient_FetchRecord_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if !strings.Contains(r.URL.RawQuery, "q=seattle") {
			t.Errorf("expected place in query, got %s", r.URL.RawQuery)
		}
		if !strings.Contains(r.URL.RawQuery, "appid=") {
			t.Errorf("expected API key in query")
		}
		if !strings.Contains(r.URL.RawQuery, "units=metric") {
			t.Errorf("expected units=metric in query")
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(testPayload())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	got, err := c.FetchRecord(context.Background(), "seattle")
	if err != nil {
		t.Fatalf("FetchRecord() error = %v", err)
	}

	if got.Place != "seattle" {
		t.Errorf("Place = %q, want %q", got.Place, "seattle")
	}
	if got.PlaceDisplay != "Seattle" {
		t.Errorf("PlaceDisplay = %q, want %q", got.PlaceDisplay, "Seattle")
	}
	if got.Temperature != 15.5 {
		t.Errorf("Temperature = %f, want %f", got.Temperature, 15.5)
	}
	if got.Description != "scattered clouds" {
		t.Errorf("Description = %q, want %q", got.Description, "scattered clouds")
	}
	if got.Humidity != 65 {
		t.Errorf("Humidity = %d, want %d", got.Humidity, 65)
	}
	if got.Pressure != 1013.25 {
		t.Errorf("Pressure = %f, want %f", got.Pressure, 1013.25)
	}
	if got.WindDirection == nil || *got.WindDirection != 180 {
		t.Errorf("WindDirection = %v, want 180", got.WindDirection)
	}
	if got.Visibility == nil || *got.Visibility != 10.0 {
		t.Errorf("Visibility = %v, want 10.0 km", got.Visibility)
	}
	if got.Source != "openweathermap" {
		t.Errorf("Source = %q", got.Source)
	}
	if got.Timestamp.IsZero() {
		t.Error("Timestamp should be stamped")
	}
}

func TestOpenWeatherClient_FetchRecord_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		wantErr    error
	}{
		{"401 unauthorized", http.StatusUnauthorized, ErrSourceUnavailable},
		{"403 forbidden", http.StatusForbidden, ErrSourceUnavailable},
		{"404 not found", http.StatusNotFound, ErrPlaceNotFound},
		{"429 rate limited", http.StatusTooManyRequests, ErrSourceRateLimited},
		{"500 server error", http.StatusInternalServerError, ErrSourceUnavailable},
		{"502 bad gateway", http.StatusBadGateway, ErrSourceUnavailable},
		{"503 unavailable", http.StatusServiceUnavailable, ErrSourceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			c := newTestClient(t, server.URL)

			_, err := c.FetchRecord(context.Background(), "test")
			if err == nil {
				t.Fatalf("FetchRecord() expected error, got nil")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FetchRecord() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpenWeatherClient_FetchRecord_RetryAfterHint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.FetchRecord(context.Background(), "test")
	if err == nil {
		t.Fatal("FetchRecord() expected error, got nil")
	}

	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("FetchRecord() error = %v, want *RateLimitError", err)
	}
	if rle.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", rle.RetryAfter)
	}
	if !errors.Is(err, ErrSourceRateLimited) {
		t.Errorf("errors.Is(err, ErrSourceRateLimited) = false")
	}
}

func TestOpenWeatherClient_FetchRecord_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	br := newTestBreaker()
	c, err := NewOpenWeatherClient("test-api-key-12345", server.URL, 100*time.Millisecond, "", br)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}

	_, err = c.FetchRecord(context.Background(), "test")
	if err == nil {
		t.Fatalf("FetchRecord() expected error, got nil")
	}
	if !errors.Is(err, ErrSourceTimeout) {
		t.Errorf("FetchRecord() error = %v, want ErrSourceTimeout", err)
	}
}

func TestOpenWeatherClient_FetchRecord_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.FetchRecord(context.Background(), "test")
	if err == nil {
		t.Fatalf("FetchRecord() expected error, got nil")
	}
	// A valid place with a broken response is the source's fault.
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("FetchRecord() error = %v, want ErrSourceUnavailable", err)
	}
	if errors.Is(err, ErrPlaceNotFound) {
		t.Errorf("parse failure must not classify as a place fault")
	}
}

func TestOpenWeatherClient_FetchRecord_ImplausiblePayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := testPayload()
		payload["main"] = map[string]interface{}{
			"temp":     15.5,
			"humidity": 300,
			"pressure": 1013.25,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	_, err := c.FetchRecord(context.Background(), "test")
	if err == nil {
		t.Fatalf("FetchRecord() expected error for out-of-range humidity, got nil")
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("FetchRecord() error = %v, want ErrSourceUnavailable", err)
	}
}

func TestOpenWeatherClient_BreakerTripsAfterThreshold(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	for i := 0; i < 5; i++ {
		if _, err := c.FetchRecord(context.Background(), "test"); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	if attempts != 5 {
		t.Fatalf("server saw %d calls before trip, want 5", attempts)
	}

	// The sixth call must be rejected without touching the network.
	_, err := c.FetchRecord(context.Background(), "test")
	if err == nil {
		t.Fatal("expected rejection from open breaker")
	}
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("open breaker error = %v, want ErrSourceUnavailable", err)
	}
	if attempts != 5 {
		t.Errorf("open breaker still reached the server: %d calls", attempts)
	}
}

func TestOpenWeatherClient_PlaceNotFoundDoesNotTripBreaker(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	for i := 0; i < 7; i++ {
		_, err := c.FetchRecord(context.Background(), "nowhere")
		if !errors.Is(err, ErrPlaceNotFound) {
			t.Fatalf("call %d: error = %v, want ErrPlaceNotFound", i+1, err)
		}
	}
	if attempts != 7 {
		t.Errorf("input faults must never open the breaker, server saw %d calls, want 7", attempts)
	}
}

func TestOpenWeatherClient_SuccessResetsBreaker(t *testing.T) {
	failing := true
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(testPayload())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	for i := 0; i < 4; i++ {
		_, _ = c.FetchRecord(context.Background(), "test")
	}

	failing = false
	if _, err := c.FetchRecord(context.Background(), "test"); err != nil {
		t.Fatalf("recovery call failed: %v", err)
	}

	// Counter is zero again, so more failures are tolerated before a trip.
	failing = true
	for i := 0; i < 4; i++ {
		_, _ = c.FetchRecord(context.Background(), "test")
	}
	failing = false
	if _, err := c.FetchRecord(context.Background(), "test"); err != nil {
		t.Fatalf("breaker tripped despite reset after success: %v", err)
	}
	if attempts != 10 {
		t.Errorf("server saw %d calls, want 10", attempts)
	}
}

func TestOpenWeatherClient_CorrelationIDForwarded(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Header.Get("X-Correlation-ID")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(testPayload())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	ctx := context.WithValue(context.Background(), "correlation_id", "corr-123")
	if _, err := c.FetchRecord(ctx, "seattle"); err != nil {
		t.Fatalf("FetchRecord() error = %v", err)
	}
	if captured != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want %q", captured, "corr-123")
	}
}

func TestOpenWeatherClient_ProbeSource(t *testing.T) {
	var probedPlace string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probedPlace = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(testPayload())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	if err := c.ProbeSource(context.Background()); err != nil {
		t.Fatalf("ProbeSource() error = %v", err)
	}
	if probedPlace != "London" {
		t.Errorf("probe place = %q, want default %q", probedPlace, "London")
	}
}

func TestOpenWeatherClient_ProbeSource_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)

	if err := c.ProbeSource(context.Background()); err == nil {
		t.Fatal("ProbeSource() expected error for 503, got nil")
	}
}

func TestOpenWeatherClient_mapResponse(t *testing.T) {
	c := &OpenWeatherClient{}

	var payload openWeatherResponse
	raw := `{
		"name": "Portland",
		"main": {"temp": 20.0, "humidity": 50, "pressure": 1008},
		"weather": [{"main": "Clear", "description": ""}],
		"wind": {"speed": 2.5}
	}`
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	got := c.mapResponse(payload, "portland")
	if got.Description != "Clear" {
		t.Errorf("empty description should fall back to main, got %q", got.Description)
	}
	if got.WindDirection != nil {
		t.Errorf("absent wind deg should stay nil, got %v", *got.WindDirection)
	}
	if got.Visibility != nil {
		t.Errorf("absent visibility should stay nil, got %v", *got.Visibility)
	}
	if got.Place != "portland" {
		t.Errorf("Place = %q, want requested place, not API name", got.Place)
	}

	payload.Name = ""
	got = c.mapResponse(payload, "somewhere")
	if got.PlaceDisplay != "somewhere" {
		t.Errorf("empty API name should fall back to place, got %q", got.PlaceDisplay)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
