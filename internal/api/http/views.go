package httpapi

import (
	"time"

	"github.com/jhosuehag/clima-open/internal/alert"
	"github.com/jhosuehag/clima-open/internal/weather"
)

// Temperatures in views are in the preferred unit; stored values stay Celsius.

type hourlyView struct {
	Time        string  `json:"time"`
	Temperature float64 `json:"temperature"`
	Code        int     `json:"code"`
	IconKey     string  `json:"iconKey"`
}

type dailyView struct {
	Date        string  `json:"date"`
	Max         float64 `json:"max"`
	Min         float64 `json:"min"`
	Code        int     `json:"code"`
	Description string  `json:"description"`
}

type snapshotView struct {
	Temperature              float64            `json:"temperature"`
	Display                  string             `json:"display"`
	Unit                     string             `json:"unit"`
	Code                     int                `json:"code"`
	Condition                weather.Descriptor `json:"condition"`
	Humidity                 int                `json:"humidityPercent"`
	WindSpeed                float64            `json:"windSpeedKph"`
	PrecipitationProbability int                `json:"precipitationProbability"`
	IsDay                    bool               `json:"isDay"`
	Hourly                   []hourlyView       `json:"hourly"`
	Daily                    []dailyView        `json:"daily,omitempty"`
	FetchedAt                time.Time          `json:"fetchedAt"`
	Provider                 string             `json:"provider"`
}

type locationView struct {
	Coordinate weather.Coordinate `json:"coordinate"`
	Name       string             `json:"name"`
	SortOrder  int                `json:"sortOrder"`
	Current    bool               `json:"current"`
	Weather    *snapshotView      `json:"weather"`
}

type weatherResponse struct {
	Coordinate weather.Coordinate `json:"coordinate"`
	Name       string             `json:"name"`
	Fresh      bool               `json:"fresh"`
	// Message explains why stale data was served.
	Message string        `json:"message,omitempty"`
	Weather *snapshotView `json:"weather"`
}

type alertView struct {
	ID           string    `json:"id"`
	LocationName string    `json:"locationName"`
	Temperature  string    `json:"temperature"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	RaisedAt     time.Time `json:"raisedAt"`
}

func presentSnapshot(s *weather.Snapshot, unit weather.TemperatureUnit) *snapshotView {
	if s == nil {
		return nil
	}
	v := &snapshotView{
		Temperature:              unit.Present(s.Temperature),
		Display:                  unit.Format(s.Temperature),
		Unit:                     unit.Symbol(),
		Code:                     s.Code,
		Condition:                weather.Describe(s.Code),
		Humidity:                 s.Humidity,
		WindSpeed:                s.WindSpeed,
		PrecipitationProbability: s.PrecipitationProbability,
		IsDay:                    s.IsDay,
		Hourly:                   make([]hourlyView, 0, len(s.Hourly)),
		FetchedAt:                s.FetchedAt,
		Provider:                 s.Provider,
	}
	for _, h := range s.Hourly {
		v.Hourly = append(v.Hourly, hourlyView{
			Time:        h.Time,
			Temperature: unit.Present(h.Temperature),
			Code:        h.Code,
			IconKey:     weather.Describe(h.Code).IconKey,
		})
	}
	for _, d := range s.Daily {
		v.Daily = append(v.Daily, dailyView{
			Date:        d.Date,
			Max:         unit.Present(d.MaxTemp),
			Min:         unit.Present(d.MinTemp),
			Code:        d.Code,
			Description: weather.Describe(d.Code).Description,
		})
	}
	return v
}

func presentLocations(list []weather.SavedLocation, unit weather.TemperatureUnit) []locationView {
	out := make([]locationView, 0, len(list))
	for _, loc := range list {
		out = append(out, locationView{
			Coordinate: loc.Coordinate,
			Name:       loc.Name,
			SortOrder:  loc.SortOrder,
			Current:    loc.Current,
			Weather:    presentSnapshot(loc.Snapshot, unit),
		})
	}
	return out
}

func presentAlerts(events []alert.Event, unit weather.TemperatureUnit) []alertView {
	out := make([]alertView, 0, len(events))
	for _, e := range events {
		out = append(out, alertView{
			ID:           e.ID,
			LocationName: e.LocationName,
			Temperature:  unit.Format(e.Temperature),
			Title:        e.Title,
			Message:      e.Message,
			RaisedAt:     e.RaisedAt,
		})
	}
	return out
}
