package weather

import (
	"math"
	"time"
)

// SameLocationThreshold is the per-axis tolerance, in degrees, under which two
// coordinates are treated as the same place.
const SameLocationThreshold = 0.001

// HourlyWindow is the number of hourly entries kept in a snapshot.
const HourlyWindow = 24

// UnknownLocationName is used for coordinates that match no landmark and have
// never been named.
const UnknownLocationName = "Unknown Location"

// Coordinate identifies a location. Stores key entities by exact equality.
type Coordinate struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// SameLocation reports whether a and b are within SameLocationThreshold on both axes.
func SameLocation(a, b Coordinate) bool {
	return math.Abs(a.Latitude-b.Latitude) < SameLocationThreshold &&
		math.Abs(a.Longitude-b.Longitude) < SameLocationThreshold
}

// HourlyForecast is one entry of the hourly window.
type HourlyForecast struct {
	Time        string  `json:"time"` // "HH:MM" in the location's local time
	Temperature float64 `json:"temperatureC"`
	Code        int     `json:"code"`
}

// DailyForecast is one day of the optional daily forecast.
type DailyForecast struct {
	Date    string  `json:"date"` // YYYY-MM-DD
	MaxTemp float64 `json:"maxC"`
	MinTemp float64 `json:"minC"`
	Code    int     `json:"code"`
}

// Snapshot is the normalized weather at a location at one point in time.
// Snapshots are treated as immutable once built.
type Snapshot struct {
	Temperature              float64          `json:"temperatureC"`
	Code                     int              `json:"code"`
	Humidity                 int              `json:"humidityPercent"`
	WindSpeed                float64          `json:"windSpeedKph"`
	PrecipitationProbability int              `json:"precipitationProbability"`
	Hourly                   []HourlyForecast `json:"hourly"`
	Daily                    []DailyForecast  `json:"daily"`
	IsDay                    bool             `json:"isDay"`
	FetchedAt                time.Time        `json:"fetchedAt"` // always UTC
	Provider                 string           `json:"provider"`
}

// Clone returns a deep copy so callers cannot alias stored slices.
func (s Snapshot) Clone() Snapshot {
	out := s
	if s.Hourly != nil {
		out.Hourly = append([]HourlyForecast(nil), s.Hourly...)
	}
	if s.Daily != nil {
		out.Daily = append([]DailyForecast(nil), s.Daily...)
	}
	return out
}

// SavedLocation is the persisted entity keyed by Coordinate.
type SavedLocation struct {
	Coordinate Coordinate `json:"coordinate"`
	Name       string     `json:"name"`
	Snapshot   *Snapshot  `json:"snapshot"`
	SortOrder  int        `json:"sortOrder"`
	// Current marks the entry that follows the device position.
	Current bool `json:"current"`
}

// Clone returns a deep copy of the location and its snapshot.
func (l SavedLocation) Clone() SavedLocation {
	out := l
	if l.Snapshot != nil {
		snap := l.Snapshot.Clone()
		out.Snapshot = &snap
	}
	return out
}

// Landmark is a named fixed coordinate.
type Landmark struct {
	Name       string     `json:"name"`
	Coordinate Coordinate `json:"coordinate"`
}

// LandmarkName returns the name of the first landmark at the same location as c.
func LandmarkName(c Coordinate, landmarks []Landmark) (string, bool) {
	for _, lm := range landmarks {
		if SameLocation(c, lm.Coordinate) {
			return lm.Name, true
		}
	}
	return "", false
}

// Place is a geocoding search result.
type Place struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Coordinate  Coordinate `json:"coordinate"`
	CountryCode string     `json:"countryCode,omitempty"`
	Region      string     `json:"region,omitempty"`
}

// TemperatureUnit is the presentation unit chosen by the user.
type TemperatureUnit string

const (
	Celsius    TemperatureUnit = "celsius"
	Fahrenheit TemperatureUnit = "fahrenheit"
)

// Preferences is process-wide user state.
type Preferences struct {
	Unit                 TemperatureUnit `json:"unit"`
	NotificationsEnabled bool            `json:"notificationsEnabled"`
	FirstRun             bool            `json:"firstRun"`
}

// DefaultPreferences are used until the user changes anything.
func DefaultPreferences() Preferences {
	return Preferences{
		Unit:                 Celsius,
		NotificationsEnabled: true,
		FirstRun:             true,
	}
}
