package notify

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jhosuehag/clima-open/internal/alert"
)

// Inbox keeps the latest alert per id, the way a notification tray replaces
// an entry posted with the same id.
type Inbox struct {
	mu     sync.RWMutex
	events map[string]alert.Event
}

func NewInbox() *Inbox {
	return &Inbox{events: make(map[string]alert.Event)}
}

func (b *Inbox) Notify(_ context.Context, e alert.Event) error {
	b.mu.Lock()
	b.events[e.ID] = e
	b.mu.Unlock()
	return nil
}

// List returns the active alerts, newest first.
func (b *Inbox) List() []alert.Event {
	b.mu.RLock()
	out := make([]alert.Event, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e)
	}
	b.mu.RUnlock()

	slices.SortFunc(out, func(a, b alert.Event) int {
		if c := b.RaisedAt.Compare(a.RaisedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Dismiss removes one alert.
func (b *Inbox) Dismiss(id string) {
	b.mu.Lock()
	delete(b.events, id)
	b.mu.Unlock()
}

// LogSink writes alerts to a zap logger.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, e alert.Event) error {
	s.log.Info("temperature alert",
		zap.String("alert_id", e.ID),
		zap.String("location", e.LocationName),
		zap.Float64("temperature", e.Temperature),
		zap.String("message", e.Message))
	return nil
}

// Multi fans an event out to every sink. All sinks are tried; failures are joined.
type Multi []alert.Sink

func (m Multi) Notify(ctx context.Context, e alert.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
