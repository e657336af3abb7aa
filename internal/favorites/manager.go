package favorites

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// ErrBlankName is returned when a rename would leave a location without a name.
var ErrBlankName = errors.New("location name must not be blank")

// Holder is implemented by stores whose list feed can be paused.
type Holder interface {
	HoldUpdates()
	ReleaseUpdates()
}

// Positioner reports the device position, if known.
type Positioner interface {
	Current() (weather.Coordinate, bool)
}

// Config carries the collaborators of a Manager.
type Config struct {
	Store       weather.Store
	Preferences weather.PreferencesStore
	Cache       *weather.Cache
	Geocoder    weather.Geocoder
	Position    Positioner
	Landmarks   []weather.Landmark
	// CurrentName is the display name of the entry that follows the device.
	CurrentName string
	Logger      *zap.Logger
}

// Manager edits the saved location list.
type Manager struct {
	store       weather.Store
	prefs       weather.PreferencesStore
	cache       *weather.Cache
	geocoder    weather.Geocoder
	position    Positioner
	landmarks   []weather.Landmark
	currentName string
	ordering    atomic.Bool
	log         *zap.Logger
}

func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		store:       cfg.Store,
		prefs:       cfg.Preferences,
		cache:       cfg.Cache,
		geocoder:    cfg.Geocoder,
		position:    cfg.Position,
		landmarks:   append([]weather.Landmark(nil), cfg.Landmarks...),
		currentName: cfg.CurrentName,
		log:         log,
	}
}

// List returns the saved locations in display order.
func (m *Manager) List(ctx context.Context) ([]weather.SavedLocation, error) {
	return m.store.List(ctx)
}

// Add saves coord with fresh weather. A blank name keeps the stored or
// default name; the entry goes to the end of the list unless it exists.
func (m *Manager) Add(ctx context.Context, coord weather.Coordinate, name string) error {
	return m.cache.SaveAsFavorite(ctx, coord, strings.TrimSpace(name), nil, true)
}

// Remove deletes coord. Removing an unknown location is not an error.
func (m *Manager) Remove(ctx context.Context, coord weather.Coordinate) error {
	return m.store.Delete(ctx, coord)
}

// Rename changes the display name without fetching.
func (m *Manager) Rename(ctx context.Context, coord weather.Coordinate, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBlankName
	}
	return m.cache.SaveAsFavorite(ctx, coord, name, nil, false)
}

// Reorder gives every listed coordinate its index as sort order in one step.
// The order must list every saved location exactly once.
func (m *Manager) Reorder(ctx context.Context, order []weather.Coordinate) error {
	return m.store.Reorder(ctx, order)
}

// MoveUp swaps coord with the entry above it.
func (m *Manager) MoveUp(ctx context.Context, coord weather.Coordinate) error {
	return m.move(ctx, coord, -1)
}

// MoveDown swaps coord with the entry below it.
func (m *Manager) MoveDown(ctx context.Context, coord weather.Coordinate) error {
	return m.move(ctx, coord, 1)
}

func (m *Manager) move(ctx context.Context, coord weather.Coordinate, delta int) error {
	list, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i, loc := range list {
		if loc.Coordinate == coord {
			idx = i
			break
		}
	}
	if idx < 0 {
		return weather.ErrNotFound
	}
	target := idx + delta
	if target < 0 || target >= len(list) {
		return nil
	}

	order := make([]weather.Coordinate, len(list))
	for i, loc := range list {
		order[i] = loc.Coordinate
	}
	order[idx], order[target] = order[target], order[idx]
	return m.store.Reorder(ctx, order)
}

// BeginOrdering marks a drag gesture as in progress. Store writes keep
// landing while it lasts; list subscribers see them when EndOrdering is called.
func (m *Manager) BeginOrdering() {
	if !m.ordering.CompareAndSwap(false, true) {
		return
	}
	if h, ok := m.store.(Holder); ok {
		h.HoldUpdates()
	}
	m.log.Debug("ordering started")
}

// EndOrdering ends the gesture and delivers the latest list.
func (m *Manager) EndOrdering() {
	if !m.ordering.CompareAndSwap(true, false) {
		return
	}
	if h, ok := m.store.(Holder); ok {
		h.ReleaseUpdates()
	}
	m.log.Debug("ordering finished")
}

// Ordering reports whether a gesture is in progress.
func (m *Manager) Ordering() bool {
	return m.ordering.Load()
}

// Search looks places up by name. A blank query finds nothing.
func (m *Manager) Search(ctx context.Context, query string) ([]weather.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" || m.geocoder == nil {
		return nil, nil
	}
	return m.geocoder.Search(ctx, query)
}

// Bootstrap seeds the default list on the first run and clears the flag. It
// reports whether anything was seeded.
func (m *Manager) Bootstrap(ctx context.Context) (bool, error) {
	prefs, err := m.prefs.GetPreferences(ctx)
	if err != nil {
		return false, fmt.Errorf("read preferences: %w", err)
	}
	if !prefs.FirstRun {
		return false, nil
	}

	if err := m.seed(ctx); err != nil {
		return false, err
	}

	prefs.FirstRun = false
	if err := m.prefs.SavePreferences(ctx, prefs); err != nil {
		return false, fmt.Errorf("save preferences: %w", err)
	}
	m.log.Info("default locations seeded", zap.Int("landmarks", len(m.landmarks)))
	return true, nil
}

// RestoreDefaults deletes every saved location and seeds the defaults again.
func (m *Manager) RestoreDefaults(ctx context.Context) error {
	list, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, loc := range list {
		if err := m.store.Delete(ctx, loc.Coordinate); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear locations: %w", err)
	}
	return m.seed(ctx)
}

// Defaults is the seed list: the device position (when known) followed by
// every landmark, with sort order equal to the index.
func (m *Manager) Defaults() []weather.SavedLocation {
	var out []weather.SavedLocation
	if m.position != nil {
		if coord, ok := m.position.Current(); ok {
			out = append(out, weather.SavedLocation{Coordinate: coord, Name: m.currentName, Current: true})
		}
	}
	for _, lm := range m.landmarks {
		out = append(out, weather.SavedLocation{Coordinate: lm.Coordinate, Name: lm.Name})
	}
	for i := range out {
		out[i].SortOrder = i
	}
	return out
}

func (m *Manager) seed(ctx context.Context) error {
	for _, loc := range m.Defaults() {
		_, err := m.store.Update(ctx, loc.Coordinate, func(current *weather.SavedLocation, _ int) (weather.SavedLocation, error) {
			if current == nil {
				return loc, nil
			}
			kept := current.Clone()
			kept.SortOrder = loc.SortOrder
			kept.Current = kept.Current || loc.Current
			return kept, nil
		})
		if err != nil {
			return fmt.Errorf("seed %s: %w", loc.Name, err)
		}
	}
	return nil
}
