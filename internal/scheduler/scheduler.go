package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/jhosuehag/clima-open/internal/alert"
	"github.com/jhosuehag/clima-open/internal/weather"
)

// MinInterval is the shortest period accepted for background sync.
const MinInterval = 15 * time.Minute

// Outcome is the cycle-level result reported to the trigger.
type Outcome string

const (
	Success Outcome = "success"
	Retry   Outcome = "retry"
)

// Report summarizes one sync cycle.
type Report struct {
	CycleID   string        `json:"cycleId"`
	Outcome   Outcome       `json:"outcome"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Locations int           `json:"locations"`
	Refreshed int           `json:"refreshed"`
	Failed    int           `json:"failed"`
	Alerts    int           `json:"alerts"`
	// ReloadRequired is set when stored presentation state changed.
	ReloadRequired bool   `json:"reloadRequired"`
	Error          string `json:"error,omitempty"`
}

// Config controls cycle timing.
type Config struct {
	Interval     time.Duration
	TaskTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	// CurrentName names the entry inserted for the device position.
	CurrentName string
	Landmarks   []weather.Landmark
}

// Scheduler periodically refreshes every tracked location and raises alerts.
type Scheduler struct {
	scheduler *gocron.Scheduler
	cache     *weather.Cache
	store     weather.Store
	prefs     weather.PreferencesStore
	evaluator *alert.Evaluator
	sink      alert.Sink
	metrics   *Metrics
	log       *zap.Logger
	cfg       Config

	stopCtx context.Context
	stop    context.CancelFunc
	runs    sync.WaitGroup
	cycles  atomic.Int64

	mu   sync.RWMutex
	last *Report
}

// Deps carries the collaborators of a Scheduler.
type Deps struct {
	Cache       *weather.Cache
	Store       weather.Store
	Preferences weather.PreferencesStore
	Evaluator   *alert.Evaluator
	Sink        alert.Sink
	Metrics     *Metrics
	Logger      *zap.Logger
}

// New creates a new Scheduler.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 30 * time.Second
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		cache:     deps.Cache,
		store:     deps.Store,
		prefs:     deps.Preferences,
		evaluator: deps.Evaluator,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		log:       log,
		cfg:       cfg,
		stopCtx:   ctx,
		stop:      cancel,
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first cycle runs immediately.
func (s *Scheduler) Start() error {
	minutes := int(s.cfg.Interval.Minutes())
	if minutes < int(MinInterval.Minutes()) {
		minutes = int(MinInterval.Minutes())
	}

	_, err := s.scheduler.Every(minutes).Minutes().SingletonMode().Do(func() {
		s.runs.Add(1)
		defer s.runs.Done()
		s.runWithRetry(s.stopCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule sync job: %w", err)
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduler started", zap.Int("interval_minutes", minutes))
	return nil
}

// Stop stops the scheduler and waits for a running cycle to return.
func (s *Scheduler) Stop() {
	s.stop()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.runs.Wait()
}

// LastReport returns the most recent cycle report, if any.
func (s *Scheduler) LastReport() (Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Report{}, false
	}
	return *s.last, true
}

// Cycles counts cycles run since start.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// runWithRetry repeats Retry outcomes with exponential backoff, the way a host
// job scheduler would.
func (s *Scheduler) runWithRetry(ctx context.Context) Report {
	var report Report
	for attempt := 0; ; attempt++ {
		report = s.RunSyncCycle(ctx)
		if report.Outcome == Success || attempt >= s.cfg.MaxRetries {
			return report
		}

		delay := s.cfg.RetryBackoff << attempt
		s.log.Warn("sync cycle will be retried",
			zap.String("cycle_id", report.CycleID),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return report
		case <-timer.C:
		}
	}
}

// RunSyncCycle refreshes every saved location and landmark concurrently and
// evaluates alerts for each fresh snapshot. Individual failures are counted,
// not escalated. Retry is reported only when the cycle itself could not run.
func (s *Scheduler) RunSyncCycle(ctx context.Context) (report Report) {
	report = Report{
		CycleID:   uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := s.log.With(zap.String("cycle_id", report.CycleID))

	defer func() {
		if r := recover(); r != nil {
			report.Outcome = Retry
			report.Error = fmt.Sprintf("panic: %v", r)
			log.Error("sync cycle panicked", zap.Any("panic", r))
		}
		report.Duration = time.Since(report.StartedAt)
		s.cycles.Inc()
		s.metrics.observeCycle(report)
		s.mu.Lock()
		last := report
		s.last = &last
		s.mu.Unlock()
	}()

	prefs, err := s.prefs.GetPreferences(ctx)
	if err != nil {
		log.Warn("preferences unavailable, using defaults", zap.Error(err))
		prefs = weather.DefaultPreferences()
	}

	targets, err := s.targets(ctx)
	if err != nil {
		report.Outcome = Retry
		report.Error = err.Error()
		log.Error("sync cycle could not list locations", zap.Error(err))
		return report
	}
	report.Locations = len(targets)

	var (
		wg        sync.WaitGroup
		refreshed atomic.Int64
		failed    atomic.Int64
		alerts    atomic.Int64
	)

	for _, coord := range targets {
		coord := coord
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failed.Inc()
					log.Error("refresh task panicked", zap.Any("panic", r))
				}
			}()

			taskCtx, cancel := context.WithTimeout(ctx, s.cfg.TaskTimeout)
			defer cancel()

			res, err := s.cache.Refresh(taskCtx, coord, weather.RefreshOptions{UseRemote: true, Persist: true})
			if err != nil {
				failed.Inc()
				// The cache already logs provider failures at warn level.
				log.Debug("refresh failed",
					zap.Float64("lat", coord.Latitude),
					zap.Float64("lon", coord.Longitude),
					zap.Error(err))
				return
			}
			refreshed.Inc()

			if res.Snapshot == nil || s.evaluator == nil {
				return
			}
			event, fire := s.evaluator.Evaluate(res.Location.Name, *res.Snapshot, prefs)
			if !fire {
				return
			}
			alerts.Inc()
			if s.sink == nil {
				return
			}
			if err := s.sink.Notify(taskCtx, event); err != nil {
				log.Warn("alert delivery failed", zap.String("alert_id", event.ID), zap.Error(err))
			}
		}()
	}

	wg.Wait()

	report.Refreshed = int(refreshed.Load())
	report.Failed = int(failed.Load())
	report.Alerts = int(alerts.Load())
	report.ReloadRequired = report.Refreshed > 0
	report.Outcome = Success

	log.Info("sync cycle completed",
		zap.Int("locations", report.Locations),
		zap.Int("refreshed", report.Refreshed),
		zap.Int("failed", report.Failed),
		zap.Int("alerts", report.Alerts))
	return report
}

// targets is every saved coordinate plus the landmarks not saved yet.
func (s *Scheduler) targets(ctx context.Context) ([]weather.Coordinate, error) {
	saved, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list saved locations: %w", err)
	}

	out := make([]weather.Coordinate, 0, len(saved)+len(s.cfg.Landmarks))
	for _, loc := range saved {
		out = append(out, loc.Coordinate)
	}
	for _, lm := range s.cfg.Landmarks {
		known := false
		for _, loc := range saved {
			if weather.SameLocation(loc.Coordinate, lm.Coordinate) {
				known = true
				break
			}
		}
		if !known {
			out = append(out, lm.Coordinate)
		}
	}
	return out, nil
}

// ErrAlreadyTracked is returned by TrackCurrentPosition when an entry already
// follows the device.
var ErrAlreadyTracked = weather.ErrAlreadyTracked

// TrackCurrentPosition inserts the device position at the top of the list,
// shifting every other entry down by one in the same store operation. It
// returns ErrAlreadyTracked with the tracked entry when one carries the
// current flag. The store makes that check atomically with the insert.
func (s *Scheduler) TrackCurrentPosition(ctx context.Context, coord weather.Coordinate) (weather.SavedLocation, error) {
	if tracked, ok, err := s.trackedPosition(ctx); err != nil {
		return weather.SavedLocation{}, err
	} else if ok {
		return tracked, ErrAlreadyTracked
	}

	loc := weather.SavedLocation{
		Coordinate: coord,
		Name:       s.cfg.CurrentName,
		SortOrder:  0,
		Current:    true,
	}
	snap, err := s.cache.Fetch(ctx, coord)
	if err != nil {
		// Inserted without weather; the next cycle fills it in.
		s.log.Warn("current position weather unavailable", zap.Error(err))
	} else {
		loc.Snapshot = &snap
	}

	if err := s.store.InsertAtTop(ctx, loc); err != nil {
		if errors.Is(err, ErrAlreadyTracked) {
			if tracked, ok, lerr := s.trackedPosition(ctx); lerr == nil && ok {
				return tracked, ErrAlreadyTracked
			}
			return weather.SavedLocation{}, ErrAlreadyTracked
		}
		return weather.SavedLocation{}, fmt.Errorf("insert current position: %w", err)
	}
	s.metrics.positionInserted()
	s.log.Info("current position inserted",
		zap.Float64("lat", coord.Latitude),
		zap.Float64("lon", coord.Longitude))

	if stored, err := s.store.Get(ctx, coord); err == nil {
		return stored, nil
	}
	return loc, nil
}

func (s *Scheduler) trackedPosition(ctx context.Context) (weather.SavedLocation, bool, error) {
	saved, err := s.store.List(ctx)
	if err != nil {
		return weather.SavedLocation{}, false, fmt.Errorf("list saved locations: %w", err)
	}
	for _, loc := range saved {
		if loc.Current {
			return loc, true, nil
		}
	}
	return weather.SavedLocation{}, false, nil
}
