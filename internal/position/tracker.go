// Package position holds the last device position reported by a client.
package position

import (
	"go.uber.org/atomic"

	"github.com/jhosuehag/clima-open/internal/weather"
)

// Tracker stores the latest known position. The zero value knows nothing.
type Tracker struct {
	current atomic.Pointer[weather.Coordinate]
	updates atomic.Int64
}

// NewTracker returns a tracker seeded with initial when it is non-nil.
func NewTracker(initial *weather.Coordinate) *Tracker {
	t := &Tracker{}
	if initial != nil {
		c := *initial
		t.current.Store(&c)
	}
	return t
}

// Set records a new position.
func (t *Tracker) Set(c weather.Coordinate) {
	t.current.Store(&c)
	t.updates.Inc()
}

// Current returns the last position and whether one is known.
func (t *Tracker) Current() (weather.Coordinate, bool) {
	p := t.current.Load()
	if p == nil {
		return weather.Coordinate{}, false
	}
	return *p, true
}

// Updates counts Set calls since start.
func (t *Tracker) Updates() int64 {
	return t.updates.Load()
}
