package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// DefaultThreshold is the temperature, in °C, above which an alert fires.
const DefaultThreshold = 19.0

// namespace scopes alert ids so the same location always maps to the same id.
var namespace = uuid.MustParse("b5a3f0d2-7c41-4e2b-9a9e-2f5c8d61e7a4")

// Event is a high-temperature alert for one location.
type Event struct {
	// ID is stable per location name; sinks replace rather than stack.
	ID           string    `json:"id"`
	LocationName string    `json:"locationName"`
	Temperature  float64   `json:"temperatureC"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
	RaisedAt     time.Time `json:"raisedAt"`
}

// Sink receives alert events.
type Sink interface {
	Notify(ctx context.Context, e Event) error
}

// Evaluator decides whether a snapshot warrants an alert. It keeps no state
// between calls.
type Evaluator struct {
	threshold float64
	now       func() time.Time
}

func NewEvaluator(threshold float64) *Evaluator {
	return &Evaluator{threshold: threshold, now: time.Now}
}

func (e *Evaluator) Threshold() float64 {
	return e.threshold
}

// Evaluate fires when the temperature is strictly above the threshold and the
// user has notifications enabled. The message is rendered in the preferred unit.
func (e *Evaluator) Evaluate(name string, snap weather.Snapshot, prefs weather.Preferences) (Event, bool) {
	if !prefs.NotificationsEnabled || snap.Temperature <= e.threshold {
		return Event{}, false
	}

	unit := prefs.Unit
	if !unit.Valid() {
		unit = weather.Celsius
	}

	return Event{
		ID:           EventID(name),
		LocationName: name,
		Temperature:  snap.Temperature,
		Title:        "High temperature",
		Message:      fmt.Sprintf("It is %s in %s", unit.Format(snap.Temperature), name),
		RaisedAt:     e.now().UTC(),
	}, true
}

// EventID derives the alert identifier for a location name.
func EventID(name string) string {
	return uuid.NewSHA1(namespace, []byte(name)).String()
}
