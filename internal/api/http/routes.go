package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jhosuehag/clima-open/internal/favorites"
	"github.com/jhosuehag/clima-open/internal/notify"
	"github.com/jhosuehag/clima-open/internal/position"
	"github.com/jhosuehag/clima-open/internal/scheduler"
	"github.com/jhosuehag/clima-open/internal/weather"
)

var validate = validator.New()

const streamKeepAlive = 15 * time.Second

// Deps carries the collaborators the HTTP handlers operate on.
type Deps struct {
	Favorites   *favorites.Manager
	Cache       *weather.Cache
	Store       weather.Store
	Preferences weather.PreferencesStore
	Scheduler   *scheduler.Scheduler
	Tracker     *position.Tracker
	Inbox       *notify.Inbox
	Logger      *zap.Logger
	// Done ends open event streams when closed.
	Done <-chan struct{}
}

type handler struct {
	Deps
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handler{Deps: deps}

	v1 := app.Group("/api/v1")

	v1.Get("/locations", h.listLocations)
	v1.Post("/locations", h.addLocation)
	v1.Delete("/locations", h.removeLocation)
	v1.Patch("/locations/name", h.renameLocation)
	v1.Put("/locations/order", h.reorderLocations)
	v1.Post("/locations/move", h.moveLocation)
	v1.Post("/locations/ordering", h.setOrdering)
	v1.Post("/locations/defaults", h.restoreDefaults)
	v1.Get("/locations/stream", h.streamLocations)

	v1.Get("/weather", h.currentWeather)
	v1.Get("/weather/daily", h.dailyWeather)
	v1.Get("/search", h.search)

	v1.Post("/sync", func(c *fiber.Ctx) error {
		report := h.Scheduler.RunSyncCycle(c.UserContext())
		status := fiber.StatusOK
		if report.Outcome == scheduler.Retry {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(report)
	})

	v1.Get("/position", h.currentPosition)

	v1.Get("/preferences", func(c *fiber.Ctx) error {
		return c.JSON(h.preferences(c.UserContext()))
	})
	v1.Put("/preferences", h.updatePreferences)

	v1.Put("/position", h.updatePosition)

	v1.Get("/alerts", func(c *fiber.Ctx) error {
		prefs := h.preferences(c.UserContext())
		return c.JSON(presentAlerts(h.Inbox.List(), prefs.Unit))
	})
	v1.Delete("/alerts/:id", func(c *fiber.Ctx) error {
		h.Inbox.Dismiss(c.Params("id"))
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// ErrorHandler renders every handler error as a JSON body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func (h *handler) listLocations(c *fiber.Ctx) error {
	list, err := h.Favorites.List(c.UserContext())
	if err != nil {
		return failure(err)
	}
	prefs := h.preferences(c.UserContext())
	return c.JSON(presentLocations(list, prefs.Unit))
}

func (h *handler) addLocation(c *fiber.Ctx) error {
	var req addLocationRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := h.Favorites.Add(c.UserContext(), req.coordinate(), req.Name); err != nil {
		return failure(err)
	}
	return h.listLocationsWithStatus(c, fiber.StatusCreated)
}

func (h *handler) removeLocation(c *fiber.Ctx) error {
	coord, err := parseCoordinateQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := h.Favorites.Remove(c.UserContext(), coord); err != nil {
		return failure(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handler) renameLocation(c *fiber.Ctx) error {
	var req renameRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if err := h.Favorites.Rename(c.UserContext(), req.coordinate(), req.Name); err != nil {
		return failure(err)
	}
	return h.listLocationsWithStatus(c, fiber.StatusOK)
}

func (h *handler) reorderLocations(c *fiber.Ctx) error {
	var req reorderRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	order := make([]weather.Coordinate, 0, len(req.Order))
	for _, item := range req.Order {
		order = append(order, item.coordinate())
	}
	if err := h.Favorites.Reorder(c.UserContext(), order); err != nil {
		return failure(err)
	}
	return h.listLocationsWithStatus(c, fiber.StatusOK)
}

func (h *handler) moveLocation(c *fiber.Ctx) error {
	var req moveRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	var err error
	if req.Direction == "up" {
		err = h.Favorites.MoveUp(c.UserContext(), req.coordinate())
	} else {
		err = h.Favorites.MoveDown(c.UserContext(), req.coordinate())
	}
	if err != nil {
		return failure(err)
	}
	return h.listLocationsWithStatus(c, fiber.StatusOK)
}

func (h *handler) setOrdering(c *fiber.Ctx) error {
	var req orderingRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	if *req.Active {
		h.Favorites.BeginOrdering()
	} else {
		h.Favorites.EndOrdering()
	}
	return c.JSON(fiber.Map{"ordering": h.Favorites.Ordering()})
}

func (h *handler) restoreDefaults(c *fiber.Ctx) error {
	if err := h.Favorites.RestoreDefaults(c.UserContext()); err != nil {
		return failure(err)
	}
	return h.listLocationsWithStatus(c, fiber.StatusOK)
}

// streamLocations sends the ordered list as server-sent events: once on
// connect and again after every store change.
func (h *handler) streamLocations(c *fiber.Ctx) error {
	list, err := h.Favorites.List(c.UserContext())
	if err != nil {
		return failure(err)
	}
	updates, cancel := h.Store.Subscribe()

	c.Set(fiber.HeaderContentType, "text/event-stream; charset=utf-8")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	unit := h.preferences(c.UserContext()).Unit
	done := h.Done
	log := h.Logger

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeEvent(w, "locations", presentLocations(list, unit)); err != nil {
			return
		}

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case <-done:
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				// The request context is gone once the handler returned.
				unit = h.preferences(context.Background()).Unit
				if err := writeEvent(w, "locations", presentLocations(next, unit)); err != nil {
					log.Debug("location stream closed", zap.Error(err))
					return
				}
			case <-keepAlive.C:
				if _, err := w.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func (h *handler) currentWeather(c *fiber.Ctx) error {
	var q weatherQuery
	if err := q.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()
	res, err := h.Cache.Refresh(ctx, q.Coordinate, weather.RefreshOptions{
		UseRemote: q.Remote,
		Persist:   q.Persist,
		Name:      q.Name,
	})
	unit := h.preferences(ctx).Unit

	if err != nil {
		if res.Snapshot == nil {
			return failure(err)
		}
		h.Logger.Debug("serving stale weather", zap.Error(err))
		return c.JSON(weatherResponse{
			Coordinate: q.Coordinate,
			Name:       res.Location.Name,
			Message:    weather.UserMessage(err),
			Weather:    presentSnapshot(res.Snapshot, unit),
		})
	}

	return c.JSON(weatherResponse{
		Coordinate: q.Coordinate,
		Name:       res.Location.Name,
		Fresh:      res.Fresh,
		Weather:    presentSnapshot(res.Snapshot, unit),
	})
}

func (h *handler) dailyWeather(c *fiber.Ctx) error {
	coord, err := parseCoordinateQuery(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	ctx := c.UserContext()
	snap, err := h.Cache.DailyForecast(ctx, coord)
	if err != nil {
		return failure(err)
	}
	return c.JSON(presentSnapshot(&snap, h.preferences(ctx).Unit))
}

func (h *handler) search(c *fiber.Ctx) error {
	places, err := h.Favorites.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return failure(err)
	}
	if places == nil {
		places = []weather.Place{}
	}
	return c.JSON(places)
}

func (h *handler) updatePreferences(c *fiber.Ctx) error {
	var req preferencesRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	ctx := c.UserContext()
	prefs := h.preferences(ctx)
	prefs.Unit = weather.TemperatureUnit(req.Unit)
	prefs.NotificationsEnabled = *req.NotificationsEnabled
	if err := h.Preferences.SavePreferences(ctx, prefs); err != nil {
		return failure(err)
	}
	return c.JSON(prefs)
}

func (h *handler) currentPosition(c *fiber.Ctx) error {
	body := fiber.Map{"known": false, "updates": h.Tracker.Updates()}
	if coord, ok := h.Tracker.Current(); ok {
		body["known"] = true
		body["latitude"] = coord.Latitude
		body["longitude"] = coord.Longitude
	}
	return c.JSON(body)
}

// updatePosition records the device position and, unless an entry already
// follows the device, inserts it at the top of the list.
func (h *handler) updatePosition(c *fiber.Ctx) error {
	var req coordinateBody
	if err := bindBody(c, &req); err != nil {
		return err
	}
	coord := req.coordinate()
	h.Tracker.Set(coord)

	loc, err := h.Scheduler.TrackCurrentPosition(c.UserContext(), coord)
	switch {
	case errors.Is(err, scheduler.ErrAlreadyTracked):
		return c.JSON(fiber.Map{"inserted": false, "name": loc.Name})
	case err != nil:
		return failure(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"inserted": true, "name": loc.Name})
}

func (h *handler) listLocationsWithStatus(c *fiber.Ctx, status int) error {
	list, err := h.Favorites.List(c.UserContext())
	if err != nil {
		return failure(err)
	}
	prefs := h.preferences(c.UserContext())
	return c.Status(status).JSON(presentLocations(list, prefs.Unit))
}

// preferences falls back to the defaults when the store cannot be read.
func (h *handler) preferences(ctx context.Context) weather.Preferences {
	prefs, err := h.Preferences.GetPreferences(ctx)
	if err != nil {
		h.Logger.Warn("preferences unavailable, using defaults", zap.Error(err))
		return weather.DefaultPreferences()
	}
	return prefs
}

// failure maps domain errors to an HTTP status with a user-facing message.
func failure(err error) error {
	var apiErr *weather.APIError
	code := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, weather.ErrNotFound), errors.Is(err, weather.ErrNoLocalData):
		code = fiber.StatusNotFound
	case errors.Is(err, favorites.ErrBlankName):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, weather.ErrInvalidOrder):
		code = fiber.StatusBadRequest
	case errors.Is(err, weather.ErrNetworkUnavailable):
		code = fiber.StatusServiceUnavailable
	case errors.As(err, &apiErr), errors.Is(err, weather.ErrMalformed):
		code = fiber.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusGatewayTimeout
	}
	return fiber.NewError(code, weather.UserMessage(err))
}

func writeEvent(w *bufio.Writer, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

// coordinateBody is a coordinate in a JSON request body.
type coordinateBody struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lon *float64 `json:"lon" validate:"required,longitude"`
}

func (b coordinateBody) coordinate() weather.Coordinate {
	return weather.Coordinate{Latitude: *b.Lat, Longitude: *b.Lon}
}

type addLocationRequest struct {
	coordinateBody
	Name string `json:"name" validate:"max=80"`
}

type renameRequest struct {
	coordinateBody
	Name string `json:"name" validate:"max=80"`
}

type reorderRequest struct {
	Order []coordinateBody `json:"order" validate:"min=1,dive"`
}

type moveRequest struct {
	coordinateBody
	Direction string `json:"direction" validate:"required,oneof=up down"`
}

type orderingRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type preferencesRequest struct {
	Unit                 string `json:"unit" validate:"required,oneof=celsius fahrenheit"`
	NotificationsEnabled *bool  `json:"notificationsEnabled" validate:"required"`
}

func bindBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// coordinateQuery holds the query parameters identifying a location.
type coordinateQuery struct {
	Lat float64 `validate:"latitude"`
	Lon float64 `validate:"longitude"`
}

func parseCoordinateQuery(c *fiber.Ctx) (weather.Coordinate, error) {
	latStr, lonStr := c.Query("lat"), c.Query("lon")
	if latStr == "" || lonStr == "" {
		return weather.Coordinate{}, errors.New("lat and lon query parameters are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return weather.Coordinate{}, errors.New("invalid lat")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return weather.Coordinate{}, errors.New("invalid lon")
	}

	q := coordinateQuery{Lat: lat, Lon: lon}
	if err := validate.Struct(q); err != nil {
		return weather.Coordinate{}, err
	}
	return weather.Coordinate{Latitude: lat, Longitude: lon}, nil
}

// weatherQuery holds the query parameters of the weather endpoint.
type weatherQuery struct {
	Coordinate weather.Coordinate
	Remote     bool
	Persist    bool
	Name       string
}

func (q *weatherQuery) bind(c *fiber.Ctx) error {
	coord, err := parseCoordinateQuery(c)
	if err != nil {
		return err
	}
	q.Coordinate = coord
	q.Remote = c.QueryBool("remote", true)
	q.Persist = c.QueryBool("persist", true)
	q.Name = c.Query("name")
	return nil
}
