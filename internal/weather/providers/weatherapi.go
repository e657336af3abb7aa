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

// WeatherAPIForecastURL is the WeatherAPI.com forecast endpoint.
const WeatherAPIForecastURL = "https://api.weatherapi.com/v1/forecast.json"

const weatherAPIDailyDays = 7

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
// Its condition codes are already in the canonical taxonomy.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     func() time.Time
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, opts ...Option) *WeatherAPIProvider {
	o := applyOptions(WeatherAPIForecastURL, opts)
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: o.baseURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: o.backoff,
		},
		circuit: newCircuitBreaker("weatherapi"),
		now:     time.Now,
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

type weatherAPICondition struct {
	Code int `json:"code"`
}

type weatherAPIResponse struct {
	Location struct {
		LocaltimeEpoch int64 `json:"localtime_epoch"`
	} `json:"location"`
	Current *struct {
		TempC     float64             `json:"temp_c"`
		Humidity  float64             `json:"humidity"`
		WindKph   float64             `json:"wind_kph"`
		IsDay     int                 `json:"is_day"`
		Condition weatherAPICondition `json:"condition"`
	} `json:"current"`
	Forecast struct {
		ForecastDay []struct {
			Date string `json:"date"`
			Day  struct {
				MaxTempC  float64             `json:"maxtemp_c"`
				MinTempC  float64             `json:"mintemp_c"`
				Condition weatherAPICondition `json:"condition"`
			} `json:"day"`
			Hour []struct {
				TimeEpoch    int64               `json:"time_epoch"`
				Time         string              `json:"time"`
				TempC        float64             `json:"temp_c"`
				ChanceOfRain int                 `json:"chance_of_rain"`
				Condition    weatherAPICondition `json:"condition"`
			} `json:"hour"`
		} `json:"forecastday"`
	} `json:"forecast"`
}

func (p *WeatherAPIProvider) fetch(ctx context.Context, c weather.Coordinate, days int) (weatherAPIResponse, error) {
	if p.apiKey == "" {
		return weatherAPIResponse{}, fmt.Errorf("weatherapi api key is not configured")
	}

	values := url.Values{}
	values.Set("key", p.apiKey)
	// WeatherAPI uses "q" for location; it accepts "lat,lon".
	values.Set("q", fmt.Sprintf("%f,%f", c.Latitude, c.Longitude))
	values.Set("days", fmt.Sprintf("%d", days))
	values.Set("aqi", "no")
	values.Set("alerts", "no")

	var payload weatherAPIResponse
	u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
	if err := getJSON(ctx, p.httpCfg, p.circuit, u, &payload); err != nil {
		return weatherAPIResponse{}, err
	}
	return payload, nil
}

func (p *WeatherAPIProvider) FetchCurrentAndHourly(ctx context.Context, c weather.Coordinate) (weather.Snapshot, error) {
	payload, err := p.fetch(ctx, c, 2)
	if err != nil {
		return weather.Snapshot{}, err
	}
	if payload.Current == nil {
		return weather.Snapshot{}, fmt.Errorf("%w: weatherapi response has no current conditions", weather.ErrMalformed)
	}

	cur := payload.Current
	snap := weather.Snapshot{
		Temperature: cur.TempC,
		Code:        cur.Condition.Code,
		Humidity:    int(cur.Humidity),
		WindSpeed:   cur.WindKph,
		IsDay:       cur.IsDay == 1,
		FetchedAt:   p.now().UTC(),
		Provider:    p.name,
	}

	// The window starts at the hour containing the location's local time.
	nowEpoch := payload.Location.LocaltimeEpoch
	for _, day := range payload.Forecast.ForecastDay {
		for _, h := range day.Hour {
			if nowEpoch > 0 && h.TimeEpoch+3600 <= nowEpoch {
				continue
			}
			if len(snap.Hourly) == 0 {
				snap.PrecipitationProbability = h.ChanceOfRain
			}
			if len(snap.Hourly) < weather.HourlyWindow {
				snap.Hourly = append(snap.Hourly, weather.HourlyForecast{
					Time:        hourLabel(h.Time),
					Temperature: h.TempC,
					Code:        h.Condition.Code,
				})
			}
		}
	}

	return snap, nil
}

func (p *WeatherAPIProvider) FetchDaily(ctx context.Context, c weather.Coordinate) ([]weather.DailyForecast, error) {
	payload, err := p.fetch(ctx, c, weatherAPIDailyDays)
	if err != nil {
		return nil, err
	}
	if len(payload.Forecast.ForecastDay) == 0 {
		return nil, fmt.Errorf("%w: weatherapi response has no daily forecast", weather.ErrMalformed)
	}

	days := make([]weather.DailyForecast, 0, len(payload.Forecast.ForecastDay))
	for _, d := range payload.Forecast.ForecastDay {
		days = append(days, weather.DailyForecast{
			Date:    d.Date,
			MaxTemp: d.Day.MaxTempC,
			MinTemp: d.Day.MinTempC,
			Code:    d.Day.Condition.Code,
		})
	}
	return days, nil
}

// hourLabel turns "2026-10-15 13:00" into "13:00".
func hourLabel(ts string) string {
	if i := strings.LastIndex(ts, " "); i >= 0 {
		return ts[i+1:]
	}
	return ts
}
