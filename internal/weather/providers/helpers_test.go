package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"

	"github.com/jhosuehag/clima-open/internal/weather"
)

const (
	openMeteoPattern  = `=~^https://api\.open-meteo\.com/v1/forecast`
	geocodingPattern  = `=~^https://geocoding-api\.open-meteo\.com/v1/search`
	weatherAPIPattern = `=~^https://api\.weatherapi\.com/v1/forecast\.json`
)

var lima = weather.Coordinate{Latitude: -12.0464, Longitude: -77.0428}

// fastBackoff keeps retry tests quick.
var fastBackoff = BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

// setupMockClient returns an HTTP client backed by a fresh mock transport.
func setupMockClient(t *testing.T) (*http.Client, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	return &http.Client{Transport: transport}, transport
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

// openMeteoForecastBody builds a forecast response with 48 hourly slots
// starting at midnight of 2026-10-15. Slot i has temperature 10+i, WMO code 61
// and precipitation probability i.
func openMeteoForecastBody(t *testing.T) string {
	t.Helper()

	times := make([]string, 0, 48)
	temps := make([]float64, 0, 48)
	codes := make([]int, 0, 48)
	probs := make([]int, 0, 48)
	for i := 0; i < 48; i++ {
		day := 15 + i/24
		times = append(times, fmt.Sprintf("2026-10-%02dT%02d:00", day, i%24))
		temps = append(temps, 10+float64(i))
		codes = append(codes, 61)
		probs = append(probs, i)
	}

	return mustJSON(t, map[string]any{
		"latitude":  -12.0,
		"longitude": -77.0,
		"current": map[string]any{
			"time":                 "2026-10-15T14:15",
			"temperature_2m":       21.4,
			"relative_humidity_2m": 68,
			"weather_code":         3,
			"wind_speed_10m":       12.5,
			"is_day":               1,
		},
		"hourly": map[string]any{
			"time":                      times,
			"temperature_2m":            temps,
			"weather_code":              codes,
			"precipitation_probability": probs,
		},
	})
}

func openMeteoDailyBody(t *testing.T) string {
	t.Helper()
	return mustJSON(t, map[string]any{
		"current": map[string]any{"time": "2026-10-15T14:15", "temperature_2m": 21.4, "weather_code": 0},
		"daily": map[string]any{
			"time":               []string{"2026-10-15", "2026-10-16", "2026-10-17"},
			"weather_code":       []int{0, 95, 71},
			"temperature_2m_max": []float64{24.1, 22.0, 3.5},
			"temperature_2m_min": []float64{16.2, 15.8, -2.0},
		},
	})
}

func weatherAPIBody(t *testing.T) string {
	t.Helper()

	// Local time is 2026-10-15 14:30 at UTC-5.
	start := time.Date(2026, 10, 15, 0, 0, 0, 0, time.FixedZone("PET", -5*3600))
	localNow := start.Add(14*time.Hour + 30*time.Minute)

	var days []map[string]any
	for d := 0; d < 2; d++ {
		var hours []map[string]any
		for h := 0; h < 24; h++ {
			at := start.Add(time.Duration(d*24+h) * time.Hour)
			hours = append(hours, map[string]any{
				"time_epoch":     at.Unix(),
				"time":           at.Format("2006-01-02 15:04"),
				"temp_c":         float64(d*24 + h),
				"chance_of_rain": h,
				"condition":      map[string]any{"code": 1183},
			})
		}
		days = append(days, map[string]any{
			"date": start.AddDate(0, 0, d).Format("2006-01-02"),
			"day": map[string]any{
				"maxtemp_c": 25.0 + float64(d),
				"mintemp_c": 15.0 + float64(d),
				"condition": map[string]any{"code": 1003},
			},
			"hour": hours,
		})
	}

	return mustJSON(t, map[string]any{
		"location": map[string]any{"localtime_epoch": localNow.Unix()},
		"current": map[string]any{
			"temp_c":    19.5,
			"humidity":  77,
			"wind_kph":  9.4,
			"is_day":    0,
			"condition": map[string]any{"code": 1063},
		},
		"forecast": map[string]any{"forecastday": days},
	})
}
