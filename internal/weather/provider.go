package weather

import (
	"context"
)

// Provider abstracts a remote forecast API (e.g. Open-Meteo, WeatherAPI).
// Adapters return canonical values only; vendor field names stay inside them.
type Provider interface {
	Name() string
	FetchCurrentAndHourly(ctx context.Context, c Coordinate) (Snapshot, error)
	FetchDaily(ctx context.Context, c Coordinate) ([]DailyForecast, error)
}

// Geocoder abstracts a remote place-search API.
type Geocoder interface {
	Search(ctx context.Context, query string) ([]Place, error)
}

// Mutation computes the new state of the entity at a coordinate. current is nil
// when nothing is stored yet; nextOrder is one past the highest stored sort order.
// Returning an error aborts the write.
type Mutation func(current *SavedLocation, nextOrder int) (SavedLocation, error)

// Store is the contract every location store must satisfy. All writes are
// atomic with respect to each other and to readers.
type Store interface {
	Get(ctx context.Context, c Coordinate) (SavedLocation, error)
	// List returns all locations ordered by SortOrder, ties by insertion.
	List(ctx context.Context) ([]SavedLocation, error)
	Upsert(ctx context.Context, loc SavedLocation) error
	Update(ctx context.Context, c Coordinate, m Mutation) (SavedLocation, error)
	// Delete is a no-op when nothing is stored at c.
	Delete(ctx context.Context, c Coordinate) error
	// Reorder sets SortOrder to the index of each coordinate in order. The
	// order must name every stored entity once, or ErrInvalidOrder is returned.
	Reorder(ctx context.Context, order []Coordinate) error
	// InsertAtTop stores loc at 0 and renumbers the others from 1. A stored
	// entity keeps its name. It returns ErrAlreadyTracked when loc is Current
	// and a stored entity already is.
	InsertAtTop(ctx context.Context, loc SavedLocation) error
	// Subscribe streams the ordered list after every change.
	Subscribe() (<-chan []SavedLocation, func())
}

// PreferencesStore persists Preferences across restarts.
type PreferencesStore interface {
	GetPreferences(ctx context.Context) (Preferences, error)
	SavePreferences(ctx context.Context, p Preferences) error
}
