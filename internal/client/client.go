package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/weather-data-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-data-service/internal/models"
	"github.com/kjstillabower/weather-data-service/internal/observability"
)

// SourceClient fetches current conditions from the external weather source.
type SourceClient interface {
	FetchRecord(ctx context.Context, place string) (models.WeatherRecord, error)
	ProbeSource(ctx context.Context) error
}

var (
	ErrPlaceNotFound     = errors.New("place not found")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSourceTimeout     = errors.New("source timeout")
	ErrSourceRateLimited = errors.New("source rate limited")
)

// RateLimitError carries the upstream retry hint from a 429 response.
// errors.Is(err, ErrSourceRateLimited) matches it.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source rate limited, retry after %s", e.RetryAfter)
	}
	return "source rate limited"
}

func (e *RateLimitError) Is(target error) bool { return target == ErrSourceRateLimited }

const (
	sourceName   = "openweathermap"
	probeTimeout = 5 * time.Second
)

// OpenWeatherClient talks to an OpenWeather-compatible API. The breaker
// lives on the client and outlives every individual request/response
// pair; transport resources are acquired per call and released on all
// exit paths.
type OpenWeatherClient struct {
	apiKey     string
	apiURL     string
	timeout    time.Duration
	probePlace string
	client     *http.Client
	breaker    *circuitbreaker.Breaker
}

func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration, probePlace string, breaker *circuitbreaker.Breaker) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	if len(apiKey) < 10 {
		return nil, errors.New("api key appears invalid (too short)")
	}
	if probePlace == "" {
		probePlace = "London"
	}

	return &OpenWeatherClient{
		apiKey:     apiKey,
		apiURL:     apiURL,
		timeout:    timeout,
		probePlace: probePlace,
		breaker:    breaker,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type openWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   *int    `json:"deg"`
	} `json:"wind"`
	Visibility *float64 `json:"visibility"` // meters
	Name       string   `json:"name"`
}

// FetchRecord performs one fetch for place. The breaker is consulted
// before the call and updated after it; a rejected call never reaches
// the network. ErrPlaceNotFound is an input fault and does not count
// toward the breaker.
func (c *OpenWeatherClient) FetchRecord(ctx context.Context, place string) (models.WeatherRecord, error) {
	if !c.breaker.Allow() {
		observability.CircuitBreakerRejectionsTotal.Inc()
		return models.WeatherRecord{}, fmt.Errorf("%w: circuit breaker open", ErrSourceUnavailable)
	}

	record, err := c.callSource(ctx, place)
	c.recordOutcome(err)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	return record, nil
}

// ProbeSource checks reachability by fetching a known place through the
// regular path.
func (c *OpenWeatherClient) ProbeSource(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := c.FetchRecord(ctx, c.probePlace)
	return err
}

func (c *OpenWeatherClient) recordOutcome(err error) {
	switch {
	case err == nil:
		c.breaker.RecordSuccess()
	case errors.Is(err, ErrPlaceNotFound):
	default:
		c.breaker.RecordFailure()
	}
	observability.CircuitBreakerFailureCount.Set(float64(c.breaker.Snapshot().Failures))
}

func (c *OpenWeatherClient) callSource(ctx context.Context, place string) (models.WeatherRecord, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, place)
	if err != nil {
		observability.ExternalSourceCallsTotal.WithLabelValues(string(ErrorCategoryUnavailable)).Inc()
		return models.WeatherRecord{}, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}

	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cause := classifyTransportError(err)
		duration := time.Since(start).Seconds()
		label := string(CategorizeError(cause))
		observability.ExternalSourceCallsTotal.WithLabelValues(label).Inc()
		observability.ExternalSourceCallDuration.WithLabelValues(label).Observe(duration)
		return models.WeatherRecord{}, cause
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.ExternalSourceCallsTotal.WithLabelValues(status).Inc()
	observability.ExternalSourceCallDuration.WithLabelValues(status).Observe(duration)

	if err := classifyStatus(resp); err != nil {
		return models.WeatherRecord{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: read response body: %v", ErrSourceUnavailable, err)
	}

	var payload openWeatherResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: malformed payload: %v", ErrSourceUnavailable, err)
	}

	record := c.mapResponse(payload, place)
	if err := record.Validate(); err != nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: implausible payload: %v", ErrSourceUnavailable, err)
	}
	return record, nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, place string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("q", place)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

// classifyTransportError maps a failed round trip to the error taxonomy.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrSourceTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSourceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
}

// classifyStatus maps a non-2xx response to the error taxonomy. Auth
// rejections are a source-side misconfiguration, not a caller fault.
func classifyStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: credentials rejected (HTTP %d)", ErrSourceUnavailable, resp.StatusCode)
	case http.StatusNotFound:
		return ErrPlaceNotFound
	case http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrSourceUnavailable, resp.StatusCode)
	}
	return nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func (c *OpenWeatherClient) mapResponse(payload openWeatherResponse, place string) models.WeatherRecord {
	description := ""
	if len(payload.Weather) > 0 {
		description = payload.Weather[0].Main
		if payload.Weather[0].Description != "" {
			description = payload.Weather[0].Description
		}
	}

	display := payload.Name
	if display == "" {
		display = place
	}

	record := models.WeatherRecord{
		Place:         strings.ToLower(strings.TrimSpace(place)),
		PlaceDisplay:  display,
		Temperature:   payload.Main.Temp,
		Description:   description,
		Humidity:      payload.Main.Humidity,
		Pressure:      payload.Main.Pressure,
		WindSpeed:     payload.Wind.Speed,
		WindDirection: payload.Wind.Deg,
		Timestamp:     time.Now().UTC(),
		Source:        sourceName,
	}
	if payload.Visibility != nil {
		km := *payload.Visibility / 1000
		record.Visibility = &km
	}
	return record
}

func extractCorrelationID(ctx context.Context) string {
	if corrIDVal := ctx.Value("correlation_id"); corrIDVal != nil {
		if corrID, ok := corrIDVal.(string); ok {
			return corrID
		}
	}
	return ""
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
