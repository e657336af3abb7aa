package weather

import (
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// IsDaytime reports whether the sun is up at c at instant t. Providers that do
// not return a day/night flag use it to fill Snapshot.IsDay.
func IsDaytime(c Coordinate, t time.Time) bool {
	observer := astral.Observer{Latitude: c.Latitude, Longitude: c.Longitude}
	t = t.UTC()

	// Sun events are computed for the local solar date so that locations far
	// from Greenwich do not pick the neighbouring day.
	solar := t.Add(time.Duration(c.Longitude / 15 * float64(time.Hour)))
	date := time.Date(solar.Year(), solar.Month(), solar.Day(), 12, 0, 0, 0, time.UTC)

	sunrise, errRise := astral.Sunrise(observer, date)
	sunset, errSet := astral.Sunset(observer, date)
	if errRise != nil || errSet != nil {
		// Polar day or night: fall back to the solar clock.
		hour := solar.Hour()
		return hour >= 6 && hour < 18
	}

	if sunset.Before(sunrise) {
		return !t.Before(sunrise) || t.Before(sunset)
	}
	return !t.Before(sunrise) && t.Before(sunset)
}
