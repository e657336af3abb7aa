package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sony/gobreaker"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// OpenMeteoGeocodingURL is the public Open-Meteo place search endpoint.
const OpenMeteoGeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"

// OpenMeteoGeocoder implements weather.Geocoder with the Open-Meteo search API.
type OpenMeteoGeocoder struct {
	baseURL  string
	language string
	count    int
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

func NewOpenMeteoGeocoder(client *http.Client, language string, opts ...Option) *OpenMeteoGeocoder {
	o := applyOptions(OpenMeteoGeocodingURL, opts)
	if language == "" {
		language = "en"
	}
	return &OpenMeteoGeocoder{
		baseURL:  o.baseURL,
		language: language,
		count:    10,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: o.backoff,
		},
		circuit: newCircuitBreaker("openmeteo-geocoding"),
	}
}

func (g *OpenMeteoGeocoder) Search(ctx context.Context, query string) ([]weather.Place, error) {
	values := url.Values{}
	values.Set("name", query)
	values.Set("count", strconv.Itoa(g.count))
	values.Set("language", g.language)
	values.Set("format", "json")

	var payload struct {
		Results []struct {
			ID          int64   `json:"id"`
			Name        string  `json:"name"`
			Latitude    float64 `json:"latitude"`
			Longitude   float64 `json:"longitude"`
			CountryCode string  `json:"country_code"`
			Admin1      string  `json:"admin1"`
		} `json:"results"`
	}
	u := fmt.Sprintf("%s?%s", g.baseURL, values.Encode())
	if err := getJSON(ctx, g.httpCfg, g.circuit, u, &payload); err != nil {
		return nil, err
	}

	places := make([]weather.Place, 0, len(payload.Results))
	for _, r := range payload.Results {
		places = append(places, weather.Place{
			ID:          strconv.FormatInt(r.ID, 10),
			Name:        r.Name,
			Coordinate:  weather.Coordinate{Latitude: r.Latitude, Longitude: r.Longitude},
			CountryCode: r.CountryCode,
			Region:      r.Admin1,
		})
	}
	return places, nil
}

// FallbackGeocoder asks secondary when primary fails or finds nothing.
type FallbackGeocoder struct {
	primary   weather.Geocoder
	secondary weather.Geocoder
}

func NewFallbackGeocoder(primary, secondary weather.Geocoder) *FallbackGeocoder {
	return &FallbackGeocoder{primary: primary, secondary: secondary}
}

func (f *FallbackGeocoder) Search(ctx context.Context, query string) ([]weather.Place, error) {
	places, err := f.primary.Search(ctx, query)
	if err == nil && len(places) > 0 {
		return places, nil
	}
	if f.secondary == nil {
		return places, err
	}

	more, err2 := f.secondary.Search(ctx, query)
	if err2 != nil {
		if err != nil {
			return nil, errors.Join(err, err2)
		}
		return nil, err2
	}
	return more, nil
}

// CachedGeocoder memoizes search results for a TTL. Failures are not cached.
type CachedGeocoder struct {
	inner weather.Geocoder
	cache *cache.Cache
}

func NewCachedGeocoder(inner weather.Geocoder, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{
		inner: inner,
		cache: cache.New(ttl, ttl*2),
	}
}

func (c *CachedGeocoder) Search(ctx context.Context, query string) ([]weather.Place, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	if cached, found := c.cache.Get(key); found {
		if places, ok := cached.([]weather.Place); ok {
			return append([]weather.Place(nil), places...), nil
		}
	}

	places, err := c.inner.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]weather.Place(nil), places...), cache.DefaultExpiration)
	return places, nil
}
