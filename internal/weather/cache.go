package weather

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jhosuehag/clima-open/internal/feed"
)

// RefreshOptions controls a single Cache.Refresh call.
type RefreshOptions struct {
	// UseRemote fetches from the provider; otherwise only the store is read.
	UseRemote bool
	// Persist writes a fresh snapshot through to the store.
	Persist bool
	// Name overrides the stored display name when non-empty.
	Name string
}

// Result is what a refresh produced. On failure Snapshot holds the last known
// value (if any) and Fresh is false.
type Result struct {
	Location SavedLocation
	Snapshot *Snapshot
	Fresh    bool
}

// Change is published whenever a refresh produced new presentation state.
type Change struct {
	Coordinate Coordinate `json:"coordinate"`
	Name       string     `json:"name"`
	Persisted  bool       `json:"persisted"`
}

// Cache reconciles the store with a remote provider.
type Cache struct {
	store     Store
	provider  Provider
	landmarks []Landmark
	changes   *feed.Feed[Change]
	log       *zap.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLandmarks sets the named coordinates used to name new entities.
func WithLandmarks(landmarks []Landmark) CacheOption {
	return func(c *Cache) {
		c.landmarks = append([]Landmark(nil), landmarks...)
	}
}

// WithLogger sets the cache logger.
func WithLogger(log *zap.Logger) CacheOption {
	return func(c *Cache) {
		c.log = log
	}
}

// NewCache creates a Cache over store and provider.
func NewCache(store Store, provider Provider, opts ...CacheOption) *Cache {
	c := &Cache{
		store:    store,
		provider: provider,
		changes:  feed.New[Change](),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Changes subscribes to change events.
func (c *Cache) Changes() (<-chan Change, func()) {
	return c.changes.Subscribe()
}

// Cached returns the stored entity at coord or ErrNoLocalData.
func (c *Cache) Cached(ctx context.Context, coord Coordinate) (SavedLocation, error) {
	loc, err := c.store.Get(ctx, coord)
	if errors.Is(err, ErrNotFound) || (err == nil && loc.Snapshot == nil) {
		return SavedLocation{}, ErrNoLocalData
	}
	if err != nil {
		return SavedLocation{}, err
	}
	return loc, nil
}

// Refresh runs the refresh protocol for coord.
//
// A remote failure is never reported as success: the previous snapshot, if
// any, comes back in the Result together with the provider error.
func (c *Cache) Refresh(ctx context.Context, coord Coordinate, opts RefreshOptions) (Result, error) {
	previous, err := c.lookup(ctx, coord)
	if err != nil {
		return Result{}, err
	}

	if !opts.UseRemote {
		if previous == nil || previous.Snapshot == nil {
			return Result{}, ErrNoLocalData
		}
		return Result{Location: *previous, Snapshot: previous.Snapshot}, nil
	}

	snap, fetchErr := c.provider.FetchCurrentAndHourly(ctx, coord)
	if fetchErr != nil {
		c.log.Warn("refresh failed",
			zap.Float64("lat", coord.Latitude),
			zap.Float64("lon", coord.Longitude),
			zap.Error(fetchErr))
		res := Result{}
		if previous != nil {
			res.Location = *previous
			res.Snapshot = previous.Snapshot
		}
		return res, fetchErr
	}

	var loc SavedLocation
	if opts.Persist {
		loc, err = c.store.Update(ctx, coord, c.merge(coord, snap, opts.Name, nil))
		if err != nil {
			return Result{}, fmt.Errorf("persist snapshot: %w", err)
		}
	} else {
		// Not persisted: metadata still comes from what is stored.
		loc, _ = c.merge(coord, snap, opts.Name, nil)(previous, 0)
	}

	c.changes.Publish(Change{Coordinate: coord, Name: loc.Name, Persisted: opts.Persist})
	c.log.Debug("refreshed",
		zap.String("name", loc.Name),
		zap.Float64("temperature", snap.Temperature),
		zap.Bool("persisted", opts.Persist))

	return Result{Location: loc, Snapshot: loc.Snapshot, Fresh: true}, nil
}

// SaveAsFavorite stores coord under name. Without useRemote only the metadata
// of an existing entity changes and ErrNotFound is returned when there is none.
// With useRemote fresh data is fetched and upserted; the sort order is the
// given one, else the stored one, else the next free index.
func (c *Cache) SaveAsFavorite(ctx context.Context, coord Coordinate, name string, sortOrder *int, useRemote bool) error {
	if !useRemote {
		_, err := c.store.Update(ctx, coord, func(current *SavedLocation, _ int) (SavedLocation, error) {
			if current == nil {
				return SavedLocation{}, ErrNotFound
			}
			updated := current.Clone()
			updated.Name = name
			if sortOrder != nil {
				updated.SortOrder = *sortOrder
			}
			return updated, nil
		})
		return err
	}

	snap, err := c.provider.FetchCurrentAndHourly(ctx, coord)
	if err != nil {
		return fmt.Errorf("fetch weather for favorite: %w", err)
	}
	loc, err := c.store.Update(ctx, coord, c.merge(coord, snap, name, sortOrder))
	if err != nil {
		return fmt.Errorf("save favorite: %w", err)
	}
	c.changes.Publish(Change{Coordinate: coord, Name: loc.Name, Persisted: true})
	return nil
}

// DailyForecast fetches current conditions plus the daily forecast. The result
// is not persisted.
func (c *Cache) DailyForecast(ctx context.Context, coord Coordinate) (Snapshot, error) {
	snap, err := c.provider.FetchCurrentAndHourly(ctx, coord)
	if err != nil {
		return Snapshot{}, err
	}
	days, err := c.provider.FetchDaily(ctx, coord)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Daily = days
	return snap, nil
}

// Fetch returns fresh data for coord without touching the store.
func (c *Cache) Fetch(ctx context.Context, coord Coordinate) (Snapshot, error) {
	return c.provider.FetchCurrentAndHourly(ctx, coord)
}

func (c *Cache) lookup(ctx context.Context, coord Coordinate) (*SavedLocation, error) {
	loc, err := c.store.Get(ctx, coord)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cached location: %w", err)
	}
	return &loc, nil
}

// merge builds the mutation that replaces the snapshot while keeping the
// stored name, sort order and current flag.
func (c *Cache) merge(coord Coordinate, snap Snapshot, name string, sortOrder *int) Mutation {
	return func(current *SavedLocation, nextOrder int) (SavedLocation, error) {
		fresh := snap.Clone()
		loc := SavedLocation{Coordinate: coord, Snapshot: &fresh}
		if current != nil {
			loc.Name = current.Name
			loc.SortOrder = current.SortOrder
			loc.Current = current.Current
		} else {
			loc.Name = c.defaultName(coord)
			loc.SortOrder = nextOrder
		}
		if name != "" {
			loc.Name = name
		}
		if sortOrder != nil {
			loc.SortOrder = *sortOrder
		}
		return loc, nil
	}
}

func (c *Cache) defaultName(coord Coordinate) string {
	if name, ok := LandmarkName(coord, c.landmarks); ok {
		return name
	}
	return UnknownLocationName
}
