package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// OpenWeatherOneCallURL is the OpenWeatherMap One Call 3.0 endpoint.
const OpenWeatherOneCallURL = "https://api.openweathermap.org/data/3.0/onecall"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, opts ...Option) *OpenWeatherProvider {
	o := applyOptions(OpenWeatherOneCallURL, opts)
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: o.baseURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: o.backoff,
		},
		circuit: newCircuitBreaker("openweather"),
		now:     time.Now,
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

type openWeatherCondition struct {
	Main string `json:"main"`
}

type openWeatherResponse struct {
	TimezoneOffset int `json:"timezone_offset"`
	Current        *struct {
		Dt        int64                  `json:"dt"`
		Sunrise   int64                  `json:"sunrise"`
		Sunset    int64                  `json:"sunset"`
		Temp      float64                `json:"temp"`
		Humidity  float64                `json:"humidity"`
		WindSpeed float64                `json:"wind_speed"` // m/s with units=metric
		Weather   []openWeatherCondition `json:"weather"`
	} `json:"current"`
	Hourly []struct {
		Dt      int64                  `json:"dt"`
		Temp    float64                `json:"temp"`
		Pop     float64                `json:"pop"`
		Weather []openWeatherCondition `json:"weather"`
	} `json:"hourly"`
	Daily []struct {
		Dt   int64 `json:"dt"`
		Temp struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"temp"`
		Weather []openWeatherCondition `json:"weather"`
	} `json:"daily"`
}

func (p *OpenWeatherProvider) fetch(ctx context.Context, c weather.Coordinate, exclude string) (openWeatherResponse, error) {
	if p.apiKey == "" {
		return openWeatherResponse{}, fmt.Errorf("openweather api key is not configured")
	}

	values := url.Values{}
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")
	values.Set("lat", fmt.Sprintf("%f", c.Latitude))
	values.Set("lon", fmt.Sprintf("%f", c.Longitude))
	values.Set("exclude", exclude)

	var payload openWeatherResponse
	u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
	if err := getJSON(ctx, p.httpCfg, p.circuit, u, &payload); err != nil {
		return openWeatherResponse{}, err
	}
	return payload, nil
}

func (p *OpenWeatherProvider) FetchCurrentAndHourly(ctx context.Context, c weather.Coordinate) (weather.Snapshot, error) {
	payload, err := p.fetch(ctx, c, "minutely,daily,alerts")
	if err != nil {
		return weather.Snapshot{}, err
	}
	if payload.Current == nil {
		return weather.Snapshot{}, fmt.Errorf("%w: openweather response has no current conditions", weather.ErrMalformed)
	}

	cur := payload.Current
	zone := time.FixedZone("local", payload.TimezoneOffset)
	snap := weather.Snapshot{
		Temperature: cur.Temp,
		Code:        mapOpenWeatherCondition(cur.Weather),
		Humidity:    int(cur.Humidity),
		WindSpeed:   cur.WindSpeed * 3.6,
		FetchedAt:   p.now().UTC(),
		Provider:    p.name,
	}
	if cur.Sunrise > 0 && cur.Sunset > 0 {
		snap.IsDay = cur.Dt >= cur.Sunrise && cur.Dt < cur.Sunset
	} else {
		snap.IsDay = weather.IsDaytime(c, time.Unix(cur.Dt, 0))
	}

	for i, h := range payload.Hourly {
		if i == 0 {
			snap.PrecipitationProbability = int(math.Round(h.Pop * 100))
		}
		if len(snap.Hourly) == weather.HourlyWindow {
			break
		}
		snap.Hourly = append(snap.Hourly, weather.HourlyForecast{
			Time:        time.Unix(h.Dt, 0).In(zone).Format("15:04"),
			Temperature: h.Temp,
			Code:        mapOpenWeatherCondition(h.Weather),
		})
	}

	return snap, nil
}

func (p *OpenWeatherProvider) FetchDaily(ctx context.Context, c weather.Coordinate) ([]weather.DailyForecast, error) {
	payload, err := p.fetch(ctx, c, "minutely,hourly,alerts")
	if err != nil {
		return nil, err
	}
	if len(payload.Daily) == 0 {
		return nil, fmt.Errorf("%w: openweather response has no daily forecast", weather.ErrMalformed)
	}

	zone := time.FixedZone("local", payload.TimezoneOffset)
	days := make([]weather.DailyForecast, 0, len(payload.Daily))
	for _, d := range payload.Daily {
		days = append(days, weather.DailyForecast{
			Date:    time.Unix(d.Dt, 0).In(zone).Format(time.DateOnly),
			MaxTemp: d.Temp.Max,
			MinTemp: d.Temp.Min,
			Code:    mapOpenWeatherCondition(d.Weather),
		})
	}
	return days, nil
}

// mapOpenWeatherCondition converts the first condition group into a canonical code.
func mapOpenWeatherCondition(items []openWeatherCondition) int {
	if len(items) == 0 {
		return weather.CodeCloudy
	}
	switch items[0].Main {
	case "Clear":
		return weather.CodeClear
	case "Clouds", "Mist", "Fog", "Haze", "Smoke", "Dust":
		return weather.CodeCloudy
	case "Rain", "Drizzle":
		return weather.CodeRain
	case "Snow":
		return weather.CodeSnow
	case "Thunderstorm":
		return weather.CodeThunderstorm
	default:
		return weather.CodeCloudy
	}
}
