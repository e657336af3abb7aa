package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// DefaultLocations is the built-in landmark list, "Name:lat:lon" separated by ";".
const DefaultLocations = "Ovalo La Perla:-12.061953:-77.117308;" +
	"Metro La Hacienda:-12.006014:-77.005777;" +
	"Estacion La Cultura:-12.088113:-77.00377"

var validate = validator.New()

type AppConfig struct {
	Port    string `validate:"required,numeric"`
	LogEnv  string `validate:"oneof=production development"`
	AppName string `validate:"required"`

	HTTPTimeout time.Duration `validate:"gt=0"`

	// SyncInterval controls how often every tracked location is refreshed.
	SyncInterval     time.Duration `validate:"gte=15m"`
	SyncTaskTimeout  time.Duration `validate:"gt=0"`
	SyncMaxRetries   int           `validate:"gte=0,lte=10"`
	SyncRetryBackoff time.Duration `validate:"gt=0"`

	AlertThreshold float64

	StoreDriver string `validate:"oneof=sqlite memory"`
	StorePath   string `validate:"required_if=StoreDriver sqlite"`

	// WeatherProviders is the failover order.
	WeatherProviders      []string `validate:"min=1,dive,oneof=openmeteo weatherapi openweather"`
	OpenMeteoBaseURL      string   `validate:"omitempty,url"`
	OpenMeteoGeocodingURL string   `validate:"omitempty,url"`
	GeocodingLanguage     string   `validate:"required"`
	WeatherAPIKey         string
	OpenWeatherAPIKey     string
	GoogleGeocoderAPIKey  string
	SearchCacheTTL        time.Duration `validate:"gte=0"`

	NotifyURLs    []string
	NotifyTimeout time.Duration `validate:"gt=0"`

	Landmarks           []weather.Landmark
	CurrentLocationName string `validate:"required"`
	// CurrentPosition seeds the position tracker; nil when unknown.
	CurrentPosition *weather.Coordinate
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		Port:                  getenvDefault("PORT", "8080"),
		LogEnv:                getenvDefault("LOG_ENV", "development"),
		AppName:               getenvDefault("APP_NAME", "clima-open"),
		StoreDriver:           getenvDefault("STORE_DRIVER", "sqlite"),
		StorePath:             getenvDefault("STORE_PATH", "clima.db"),
		OpenMeteoBaseURL:      os.Getenv("OPENMETEO_BASE_URL"),
		OpenMeteoGeocodingURL: os.Getenv("OPENMETEO_GEOCODING_URL"),
		GeocodingLanguage:     getenvDefault("GEOCODING_LANGUAGE", "es"),
		WeatherAPIKey:         os.Getenv("WEATHERAPI_API_KEY"),
		OpenWeatherAPIKey:     os.Getenv("OPENWEATHER_API_KEY"),
		GoogleGeocoderAPIKey:  os.Getenv("GOOGLE_GEOCODER_API_KEY"),
		CurrentLocationName:   getenvDefault("CURRENT_LOCATION_NAME", "Current Location"),
		SyncMaxRetries:        getenvInt("SYNC_MAX_RETRIES", 3),
		WeatherProviders:      splitList(getenvDefault("WEATHER_PROVIDERS", "openmeteo,weatherapi"), ","),
		NotifyURLs:            splitList(os.Getenv("NOTIFY_URLS"), " "),
	}

	durations := []struct {
		key, def string
		dst      *time.Duration
	}{
		{"HTTP_TIMEOUT", "10s", &cfg.HTTPTimeout},
		{"SYNC_INTERVAL", "15m", &cfg.SyncInterval},
		{"SYNC_TASK_TIMEOUT", "30s", &cfg.SyncTaskTimeout},
		{"SYNC_RETRY_BACKOFF", "30s", &cfg.SyncRetryBackoff},
		{"SEARCH_CACHE_TTL", "10m", &cfg.SearchCacheTTL},
		{"NOTIFY_TIMEOUT", "10s", &cfg.NotifyTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(getenvDefault(d.key, d.def))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}

	threshold, err := strconv.ParseFloat(getenvDefault("ALERT_THRESHOLD", "19.0"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid ALERT_THRESHOLD: %w", err)
	}
	cfg.AlertThreshold = threshold

	landmarks, err := ParseLandmarks(getenvDefault("DEFAULT_LOCATIONS", DefaultLocations))
	if err != nil {
		return nil, err
	}
	cfg.Landmarks = landmarks

	pos, err := loadCurrentPosition()
	if err != nil {
		return nil, err
	}
	cfg.CurrentPosition = pos

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, lm := range cfg.Landmarks {
		if err := validateCoordinate(lm.Coordinate); err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_LOCATIONS entry %q: %w", lm.Name, err)
		}
	}
	if cfg.CurrentPosition != nil {
		if err := validateCoordinate(*cfg.CurrentPosition); err != nil {
			return nil, fmt.Errorf("invalid CURRENT_LATITUDE/CURRENT_LONGITUDE: %w", err)
		}
	}

	return cfg, nil
}

// ParseLandmarks parses "Name:lat:lon;Name:lat:lon". Names may not contain ':'.
func ParseLandmarks(s string) ([]weather.Landmark, error) {
	var out []weather.Landmark
	for _, item := range strings.Split(s, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid location %q: want Name:lat:lon", item)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in %q: %w", item, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in %q: %w", item, err)
		}
		out = append(out, weather.Landmark{
			Name:       strings.TrimSpace(parts[0]),
			Coordinate: weather.Coordinate{Latitude: lat, Longitude: lon},
		})
	}
	return out, nil
}

func loadCurrentPosition() (*weather.Coordinate, error) {
	latStr := os.Getenv("CURRENT_LATITUDE")
	lonStr := os.Getenv("CURRENT_LONGITUDE")
	if latStr == "" && lonStr == "" {
		return nil, nil
	}
	if latStr == "" || lonStr == "" {
		return nil, fmt.Errorf("CURRENT_LATITUDE and CURRENT_LONGITUDE must be set together")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CURRENT_LATITUDE: %w", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid CURRENT_LONGITUDE: %w", err)
	}
	return &weather.Coordinate{Latitude: lat, Longitude: lon}, nil
}

type coordinateRule struct {
	Lat float64 `validate:"latitude"`
	Lon float64 `validate:"longitude"`
}

func validateCoordinate(c weather.Coordinate) error {
	return validate.Struct(coordinateRule{Lat: c.Latitude, Lon: c.Longitude})
}

func splitList(s, sep string) []string {
	var out []string
	for _, item := range strings.Split(s, sep) {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
