package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// BenchmarkClient_BuildRequest benchmarks HTTP request construction.
func BenchmarkClient_BuildRequest(b *testing.B) {
	c, _ := NewOpenWeatherClient("test-api-key-12345", "https://api.openweathermap.org/data/2.5/weather", 2*time.Second, "", newTestBreaker())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.buildRequest(ctx, "seattle")
	}
}

// BenchmarkClient_ParseResponse benchmarks JSON response parsing.
func BenchmarkClient_ParseResponse(b *testing.B) {
	responseJSON := `{
		"main": {"temp": 15.5, "humidity": 65, "pressure": 1013},
		"weather": [{"main": "Clear", "description": "clear sky"}],
		"wind": {"speed": 10.2, "deg": 200},
		"visibility": 10000,
		"name": "Seattle"
	}`

	var payload openWeatherResponse

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = json.Unmarshal([]byte(responseJSON), &payload)
	}
}

// BenchmarkClient_ClassifyStatus benchmarks response classification across
// the status table.
func BenchmarkClient_ClassifyStatus(b *testing.B) {
	codes := []int{200, 401, 404, 429, 500, 503}
	resps := make([]*http.Response, len(codes))
	for i, code := range codes {
		resps[i] = &http.Response{
			StatusCode: code,
			Header:     http.Header{},
			Body:       io.NopCloser(strings.NewReader("")),
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = classifyStatus(resps[i%len(resps)])
	}
}

// BenchmarkClient_MapResponse benchmarks field mapping from the wire
// payload to the record.
func BenchmarkClient_MapResponse(b *testing.B) {
	c := &OpenWeatherClient{}
	deg := 180
	vis := 10000.0
	payload := openWeatherResponse{Name: "Seattle"}
	payload.Main.Temp = 15.5
	payload.Main.Humidity = 65
	payload.Main.Pressure = 1013.25
	payload.Wind.Speed = 3.2
	payload.Wind.Deg = &deg
	payload.Visibility = &vis
	payload.Weather = append(payload.Weather, struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	}{Main: "Clouds", Description: "scattered clouds"})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.mapResponse(payload, fmt.Sprintf("place-%d", i%8))
	}
}
