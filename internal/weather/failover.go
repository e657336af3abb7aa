package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failover tries providers in order and returns the first successful result.
// When every provider fails the errors are joined so callers can still match
// the taxonomy with errors.Is / errors.As.
type Failover struct {
	providers []Provider
}

// NewFailover wraps the given providers. It panics when none are given since
// a cache without a provider cannot refresh anything.
func NewFailover(providers ...Provider) *Failover {
	if len(providers) == 0 {
		panic("weather: failover requires at least one provider")
	}
	return &Failover{providers: providers}
}

func (f *Failover) Name() string {
	names := make([]string, 0, len(f.providers))
	for _, p := range f.providers {
		names = append(names, p.Name())
	}
	return strings.Join(names, ",")
}

func (f *Failover) FetchCurrentAndHourly(ctx context.Context, c Coordinate) (Snapshot, error) {
	var errs []error
	for _, p := range f.providers {
		snap, err := p.FetchCurrentAndHourly(ctx, c)
		if err == nil {
			return snap, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return Snapshot{}, errors.Join(errs...)
}

func (f *Failover) FetchDaily(ctx context.Context, c Coordinate) ([]DailyForecast, error) {
	var errs []error
	for _, p := range f.providers {
		days, err := p.FetchDaily(ctx, c)
		if err == nil {
			return days, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}
