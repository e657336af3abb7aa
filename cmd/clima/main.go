package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jhosuehag/clima-open/internal/alert"
	httpapi "github.com/jhosuehag/clima-open/internal/api/http"
	"github.com/jhosuehag/clima-open/internal/config"
	"github.com/jhosuehag/clima-open/internal/favorites"
	"github.com/jhosuehag/clima-open/internal/logger"
	"github.com/jhosuehag/clima-open/internal/notify"
	"github.com/jhosuehag/clima-open/internal/position"
	"github.com/jhosuehag/clima-open/internal/scheduler"
	"github.com/jhosuehag/clima-open/internal/store"
	"github.com/jhosuehag/clima-open/internal/weather"
	"github.com/jhosuehag/clima-open/internal/weather/providers"
)

// locationStore is what both store drivers provide.
type locationStore interface {
	weather.Store
	weather.PreferencesStore
}

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if err := logger.Init(cfg.LogEnv); err != nil {
		logger.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	st, closeStore := openStore(cfg)
	defer closeStore()

	provider := weather.NewFailover(buildProviders(cfg, httpClient)...)
	cache := weather.NewCache(st, provider,
		weather.WithLandmarks(cfg.Landmarks),
		weather.WithLogger(logger.Named("cache")))

	tracker := position.NewTracker(cfg.CurrentPosition)

	manager := favorites.NewManager(favorites.Config{
		Store:       st,
		Preferences: st,
		Cache:       cache,
		Geocoder:    buildGeocoder(cfg, httpClient),
		Position:    tracker,
		Landmarks:   cfg.Landmarks,
		CurrentName: cfg.CurrentLocationName,
		Logger:      logger.Named("favorites"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if seeded, err := manager.Bootstrap(ctx); err != nil {
		logger.Error("failed to seed default locations", zap.Error(err))
	} else if seeded {
		logger.Info("default locations seeded", zap.Int("landmarks", len(cfg.Landmarks)))
	}

	inbox := notify.NewInbox()
	sinks := notify.Multi{inbox, notify.NewLogSink(logger.Named("alerts"))}
	if len(cfg.NotifyURLs) > 0 {
		push, err := notify.NewPushSink(cfg.NotifyURLs, cfg.NotifyTimeout, logger.Named("push"))
		if err != nil {
			logger.Fatal("failed to configure push notifications", zap.Error(err))
		}
		sinks = append(sinks, push)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := scheduler.NewMetrics(registry)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}

	evaluator := alert.NewEvaluator(cfg.AlertThreshold)

	// Scheduler that periodically refreshes every tracked location.
	sched := scheduler.New(scheduler.Config{
		Interval:     cfg.SyncInterval,
		TaskTimeout:  cfg.SyncTaskTimeout,
		MaxRetries:   cfg.SyncMaxRetries,
		RetryBackoff: cfg.SyncRetryBackoff,
		CurrentName:  cfg.CurrentLocationName,
		Landmarks:    cfg.Landmarks,
	}, scheduler.Deps{
		Cache:       cache,
		Store:       st,
		Preferences: st,
		Evaluator:   evaluator,
		Sink:        sinks,
		Metrics:     metrics,
		Logger:      logger.Named("scheduler"),
	})
	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	if pos, ok := tracker.Current(); ok {
		if _, err := sched.TrackCurrentPosition(ctx, pos); err != nil && !errors.Is(err, scheduler.ErrAlreadyTracked) {
			logger.Warn("failed to track current position", zap.Error(err))
		}
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{
			"status":          "ok",
			"service":         cfg.AppName,
			"provider":        provider.Name(),
			"cycles":          sched.Cycles(),
			"alertThreshold":  evaluator.Threshold(),
			"positionUpdates": tracker.Updates(),
		}
		if report, ok := sched.LastReport(); ok {
			body["lastSync"] = report
		}
		return c.JSON(body)
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Favorites:   manager,
		Cache:       cache,
		Store:       st,
		Preferences: st,
		Scheduler:   sched,
		Tracker:     tracker,
		Inbox:       inbox,
		Logger:      logger.Named("http"),
		Done:        ctx.Done(),
	})

	go func() {
		logger.Info("http server listening", zap.String("port", cfg.Port))
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
}

func openStore(cfg *config.AppConfig) (locationStore, func()) {
	if cfg.StoreDriver == "memory" {
		return store.NewMemoryStore(), func() {}
	}
	st, err := store.OpenSQLite(cfg.StorePath)
	if err != nil {
		logger.Fatal("failed to open sqlite store", zap.String("path", cfg.StorePath), zap.Error(err))
	}
	return st, func() {
		if err := st.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}
}

// buildProviders returns the adapters in failover order. Adapters that need a
// key are skipped when it is missing.
func buildProviders(cfg *config.AppConfig, client *http.Client) []weather.Provider {
	var provs []weather.Provider
	for _, name := range cfg.WeatherProviders {
		switch name {
		case "openmeteo":
			provs = append(provs, providers.NewOpenMeteoProvider(client, providers.WithBaseURL(cfg.OpenMeteoBaseURL)))
		case "weatherapi":
			if cfg.WeatherAPIKey == "" {
				logger.Warn("WEATHERAPI_API_KEY not set, skipping provider")
				continue
			}
			provs = append(provs, providers.NewWeatherAPIProvider(client, cfg.WeatherAPIKey))
		case "openweather":
			if cfg.OpenWeatherAPIKey == "" {
				logger.Warn("OPENWEATHER_API_KEY not set, skipping provider")
				continue
			}
			provs = append(provs, providers.NewOpenWeatherProvider(client, cfg.OpenWeatherAPIKey))
		}
	}
	if len(provs) == 0 {
		logger.Fatal("no weather provider configured", zap.Strings("providers", cfg.WeatherProviders))
	}
	return provs
}

// buildGeocoder chains Open-Meteo search, the Google fallback when a key is
// set, and a result cache.
func buildGeocoder(cfg *config.AppConfig, client *http.Client) weather.Geocoder {
	var fallback weather.Geocoder
	if cfg.GoogleGeocoderAPIKey != "" {
		fallback = providers.NewGoogleGeocoder(cfg.GoogleGeocoderAPIKey)
	}

	var geo weather.Geocoder = providers.NewFallbackGeocoder(
		providers.NewOpenMeteoGeocoder(client, cfg.GeocodingLanguage, providers.WithBaseURL(cfg.OpenMeteoGeocodingURL)),
		fallback,
	)
	if cfg.SearchCacheTTL > 0 {
		geo = providers.NewCachedGeocoder(geo, cfg.SearchCacheTTL)
	}
	return geo
}
