package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// OpenMeteoForecastURL is the public Open-Meteo forecast endpoint.
const OpenMeteoForecastURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
// It needs no API key.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewOpenMeteoProvider(client *http.Client, opts ...Option) *OpenMeteoProvider {
	o := applyOptions(OpenMeteoForecastURL, opts)
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: o.baseURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: o.backoff,
		},
		circuit: newCircuitBreaker("openmeteo"),
		now:     time.Now,
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

type openMeteoResponse struct {
	Current *struct {
		Time        string   `json:"time"`
		Temperature *float64 `json:"temperature_2m"`
		Humidity    float64  `json:"relative_humidity_2m"`
		WeatherCode int      `json:"weather_code"`
		WindSpeed   float64  `json:"wind_speed_10m"`
		IsDay       *int     `json:"is_day"`
	} `json:"current"`
	Hourly *struct {
		Time                     []string   `json:"time"`
		Temperature              []float64  `json:"temperature_2m"`
		WeatherCode              []int      `json:"weather_code"`
		PrecipitationProbability []*float64 `json:"precipitation_probability"`
	} `json:"hourly"`
	Daily *struct {
		Time        []string  `json:"time"`
		WeatherCode []int     `json:"weather_code"`
		MaxTemp     []float64 `json:"temperature_2m_max"`
		MinTemp     []float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

func (p *OpenMeteoProvider) query(c weather.Coordinate, extra url.Values) string {
	values := url.Values{}
	values.Set("latitude", fmt.Sprintf("%f", c.Latitude))
	values.Set("longitude", fmt.Sprintf("%f", c.Longitude))
	values.Set("current", "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m,is_day")
	values.Set("timezone", "auto")
	for k, v := range extra {
		values[k] = v
	}
	return fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
}

func (p *OpenMeteoProvider) FetchCurrentAndHourly(ctx context.Context, c weather.Coordinate) (weather.Snapshot, error) {
	u := p.query(c, url.Values{
		"hourly":        {"temperature_2m,weather_code,precipitation_probability"},
		"forecast_days": {"2"},
	})

	var payload openMeteoResponse
	if err := getJSON(ctx, p.httpCfg, p.circuit, u, &payload); err != nil {
		return weather.Snapshot{}, err
	}
	if payload.Current == nil || payload.Current.Temperature == nil {
		return weather.Snapshot{}, fmt.Errorf("%w: openmeteo response has no current conditions", weather.ErrMalformed)
	}

	now := p.now().UTC()
	cur := payload.Current
	snap := weather.Snapshot{
		Temperature: *cur.Temperature,
		Code:        weather.FromWMO(cur.WeatherCode),
		Humidity:    int(cur.Humidity),
		WindSpeed:   cur.WindSpeed,
		FetchedAt:   now,
		Provider:    p.name,
	}
	if cur.IsDay != nil {
		snap.IsDay = *cur.IsDay == 1
	} else {
		snap.IsDay = weather.IsDaytime(c, now)
	}

	if h := payload.Hourly; h != nil {
		n := min(len(h.Time), len(h.Temperature))
		start := hourlyStart(h.Time[:n], cur.Time)
		for i := start; i < n && len(snap.Hourly) < weather.HourlyWindow; i++ {
			code := weather.CodeCloudy
			if i < len(h.WeatherCode) {
				code = weather.FromWMO(h.WeatherCode[i])
			}
			snap.Hourly = append(snap.Hourly, weather.HourlyForecast{
				Time:        clockLabel(h.Time[i]),
				Temperature: h.Temperature[i],
				Code:        code,
			})
		}
		if start < len(h.PrecipitationProbability) && h.PrecipitationProbability[start] != nil {
			snap.PrecipitationProbability = int(*h.PrecipitationProbability[start])
		}
	}

	return snap, nil
}

func (p *OpenMeteoProvider) FetchDaily(ctx context.Context, c weather.Coordinate) ([]weather.DailyForecast, error) {
	u := p.query(c, url.Values{
		"daily": {"weather_code,temperature_2m_max,temperature_2m_min"},
	})

	var payload openMeteoResponse
	if err := getJSON(ctx, p.httpCfg, p.circuit, u, &payload); err != nil {
		return nil, err
	}
	if payload.Daily == nil {
		return nil, fmt.Errorf("%w: openmeteo response has no daily forecast", weather.ErrMalformed)
	}

	d := payload.Daily
	days := make([]weather.DailyForecast, 0, len(d.Time))
	for i, date := range d.Time {
		day := weather.DailyForecast{Date: date, Code: weather.CodeCloudy}
		if i < len(d.MaxTemp) {
			day.MaxTemp = d.MaxTemp[i]
		}
		if i < len(d.MinTemp) {
			day.MinTemp = d.MinTemp[i]
		}
		if i < len(d.WeatherCode) {
			day.Code = weather.FromWMO(d.WeatherCode[i])
		}
		days = append(days, day)
	}
	return days, nil
}

// hourlyStart finds the hourly slot containing the current observation time
// ("2026-10-15T14:15" matches "2026-10-15T14:00"). It falls back to the first slot.
func hourlyStart(times []string, current string) int {
	if len(current) < 13 {
		return 0
	}
	hour := current[:13]
	for i, t := range times {
		if strings.HasPrefix(t, hour) {
			return i
		}
	}
	return 0
}

// clockLabel turns "2026-10-15T14:00" into "14:00".
func clockLabel(ts string) string {
	if _, after, ok := strings.Cut(ts, "T"); ok {
		return after
	}
	return ts
}
