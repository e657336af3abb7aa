package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jhosuehag/clima-open/internal/alert"
	"github.com/jhosuehag/clima-open/internal/notify"
	"github.com/jhosuehag/clima-open/internal/store"
	"github.com/jhosuehag/clima-open/internal/weather"
)

var (
	hacienda = weather.Coordinate{Latitude: -12.006014, Longitude: -77.005777}
	perla    = weather.Coordinate{Latitude: -12.061953, Longitude: -77.117308}
	cultura  = weather.Coordinate{Latitude: -12.088113, Longitude: -77.00377}
	home     = weather.Coordinate{Latitude: -12.1211, Longitude: -77.0297}
	gps      = weather.Coordinate{Latitude: -12.0464, Longitude: -77.0428}
)

var landmarks = []weather.Landmark{
	{Name: "Metro La Hacienda", Coordinate: hacienda},
	{Name: "Ovalo La Perla", Coordinate: perla},
	{Name: "Estacion La Cultura", Coordinate: cultura},
}

// mapProvider returns a fixed temperature per coordinate.
type mapProvider struct {
	mu      sync.Mutex
	temps   map[weather.Coordinate]float64
	errs    map[weather.Coordinate]error
	barrier *sync.WaitGroup
	calls   int
}

func (p *mapProvider) Name() string { return "map" }

func (p *mapProvider) FetchCurrentAndHourly(ctx context.Context, c weather.Coordinate) (weather.Snapshot, error) {
	p.mu.Lock()
	p.calls++
	temp, err, barrier := p.temps[c], p.errs[c], p.barrier
	p.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		done := make(chan struct{})
		go func() {
			barrier.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return weather.Snapshot{}, ctx.Err()
		}
	}
	if err != nil {
		return weather.Snapshot{}, err
	}
	return weather.Snapshot{Temperature: temp, Code: weather.CodeClear, FetchedAt: time.Now().UTC()}, nil
}

func (p *mapProvider) FetchDaily(context.Context, weather.Coordinate) ([]weather.DailyForecast, error) {
	return nil, nil
}

// listFailStore fails List a number of times before delegating.
type listFailStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *listFailStore) List(ctx context.Context) ([]weather.SavedLocation, error) {
	s.mu.Lock()
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return nil, errors.New("database is locked")
	}
	return s.MemoryStore.List(ctx)
}

type panicPrefs struct{}

func (panicPrefs) GetPreferences(context.Context) (weather.Preferences, error) {
	panic("preferences corrupted")
}

func (panicPrefs) SavePreferences(context.Context, weather.Preferences) error { return nil }

type fixture struct {
	sched    *Scheduler
	store    *store.MemoryStore
	provider *mapProvider
	inbox    *notify.Inbox
}

func newFixture(t *testing.T, st weather.Store, mem *store.MemoryStore, prefs weather.PreferencesStore) fixture {
	t.Helper()
	prov := &mapProvider{
		temps: map[weather.Coordinate]float64{hacienda: 18, perla: 21.5, cultura: 19, home: 25, gps: 17},
		errs:  map[weather.Coordinate]error{},
	}
	cache := weather.NewCache(st, prov, weather.WithLandmarks(landmarks))
	inbox := notify.NewInbox()
	sched := New(Config{
		Interval:     time.Minute,
		TaskTimeout:  time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
		CurrentName:  "Current Location",
		Landmarks:    landmarks,
	}, Deps{
		Cache:       cache,
		Store:       st,
		Preferences: prefs,
		Evaluator:   alert.NewEvaluator(alert.DefaultThreshold),
		Sink:        inbox,
	})
	return fixture{sched: sched, store: mem, provider: prov, inbox: inbox}
}

func newMemFixture(t *testing.T) fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	return newFixture(t, mem, mem, mem)
}

func TestRunSyncCycle_RefreshesSavedAndLandmarks(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newMemFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: home, Name: "Home", SortOrder: 0}))

	report := f.sched.RunSyncCycle(ctx)
	assert.Equal(t, Success, report.Outcome)
	assert.NotEmpty(t, report.CycleID)
	assert.Equal(t, 4, report.Locations)
	assert.Equal(t, 4, report.Refreshed)
	assert.Zero(t, report.Failed)
	assert.True(t, report.ReloadRequired)

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, "Home", list[0].Name)
	for _, loc := range list {
		require.NotNil(t, loc.Snapshot, loc.Name)
	}

	last, ok := f.sched.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.CycleID, last.CycleID)
	assert.Equal(t, int64(1), f.sched.Cycles())
}

func TestRunSyncCycle_AlertsAboveThreshold(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newMemFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: home, Name: "Home"}))

	report := f.sched.RunSyncCycle(ctx)
	assert.Equal(t, 2, report.Alerts)

	events := f.inbox.List()
	require.Len(t, events, 2)
	got := map[string]string{}
	for _, e := range events {
		got[e.LocationName] = e.ID
	}
	assert.Equal(t, alert.EventID("Home"), got["Home"])
	assert.Equal(t, alert.EventID("Ovalo La Perla"), got["Ovalo La Perla"])

	// A second cycle replaces the alerts instead of stacking them.
	f.sched.RunSyncCycle(ctx)
	assert.Len(t, f.inbox.List(), 2)
}

func TestRunSyncCycle_NotificationsDisabled(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	prefs := weather.DefaultPreferences()
	prefs.NotificationsEnabled = false
	require.NoError(t, f.store.SavePreferences(ctx, prefs))

	report := f.sched.RunSyncCycle(ctx)
	assert.Equal(t, Success, report.Outcome)
	assert.Zero(t, report.Alerts)
	assert.Empty(t, f.inbox.List())
}

func TestRunSyncCycle_PartialFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newMemFixture(t)
	f.provider.errs[perla] = weather.ErrNetworkUnavailable

	report := f.sched.RunSyncCycle(context.Background())
	assert.Equal(t, Success, report.Outcome)
	assert.Equal(t, 2, report.Refreshed)
	assert.Equal(t, 1, report.Failed)

	_, err := f.store.Get(context.Background(), perla)
	require.ErrorIs(t, err, weather.ErrNotFound)
}

func TestRunSyncCycle_RefreshFailureWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	mem := store.NewMemoryStore()
	prov := &mapProvider{
		temps: map[weather.Coordinate]float64{hacienda: 18, cultura: 19},
		errs:  map[weather.Coordinate]error{perla: weather.ErrNetworkUnavailable},
	}
	sched := New(Config{
		Interval:    time.Minute,
		TaskTimeout: time.Second,
		Landmarks:   landmarks,
	}, Deps{
		Cache:       weather.NewCache(mem, prov, weather.WithLandmarks(landmarks), weather.WithLogger(log.Named("cache"))),
		Store:       mem,
		Preferences: mem,
		Evaluator:   alert.NewEvaluator(alert.DefaultThreshold),
		Sink:        notify.NewInbox(),
		Logger:      log.Named("scheduler"),
	})

	report := sched.RunSyncCycle(context.Background())
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, logs.FilterMessage("refresh failed").Len())
}

func TestRunSyncCycle_AllFailStillSuccess(t *testing.T) {
	f := newMemFixture(t)
	for _, lm := range landmarks {
		f.provider.errs[lm.Coordinate] = &weather.APIError{Code: 503}
	}

	report := f.sched.RunSyncCycle(context.Background())
	assert.Equal(t, Success, report.Outcome)
	assert.Equal(t, 3, report.Failed)
	assert.False(t, report.ReloadRequired)
}

func TestRunSyncCycle_ListFailureRetries(t *testing.T) {
	defer goleak.VerifyNone(t)

	mem := store.NewMemoryStore()
	st := &listFailStore{MemoryStore: mem, failures: 1}
	f := newFixture(t, st, mem, mem)

	report := f.sched.RunSyncCycle(context.Background())
	assert.Equal(t, Retry, report.Outcome)
	assert.Contains(t, report.Error, "database is locked")
}

func TestRunSyncCycle_PanicBecomesRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	mem := store.NewMemoryStore()
	f := newFixture(t, mem, mem, panicPrefs{})

	var report Report
	require.NotPanics(t, func() { report = f.sched.RunSyncCycle(context.Background()) })
	assert.Equal(t, Retry, report.Outcome)
	assert.Contains(t, report.Error, "preferences corrupted")
}

func TestRunSyncCycle_FetchesConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newMemFixture(t)
	// Every fetch waits until all three have started; a sequential cycle
	// would time out instead.
	var barrier sync.WaitGroup
	barrier.Add(len(landmarks))
	f.provider.barrier = &barrier

	report := f.sched.RunSyncCycle(context.Background())
	assert.Equal(t, 3, report.Refreshed)
	assert.Zero(t, report.Failed)
}

func TestRunWithRetry(t *testing.T) {
	defer goleak.VerifyNone(t)

	mem := store.NewMemoryStore()
	st := &listFailStore{MemoryStore: mem, failures: 2}
	f := newFixture(t, st, mem, mem)

	report := f.sched.runWithRetry(context.Background())
	assert.Equal(t, Success, report.Outcome)
	assert.Equal(t, int64(3), f.sched.Cycles())
}

func TestRunWithRetry_GivesUp(t *testing.T) {
	mem := store.NewMemoryStore()
	st := &listFailStore{MemoryStore: mem, failures: 10}
	f := newFixture(t, st, mem, mem)

	report := f.sched.runWithRetry(context.Background())
	assert.Equal(t, Retry, report.Outcome)
	assert.Equal(t, int64(4), f.sched.Cycles())
}

func TestTrackCurrentPosition_ShiftAndInsert(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: hacienda, Name: "A", SortOrder: 0}))
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: perla, Name: "B", SortOrder: 1}))

	loc, err := f.sched.TrackCurrentPosition(ctx, gps)
	require.NoError(t, err)
	assert.True(t, loc.Current)
	require.NotNil(t, loc.Snapshot)

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "Current Location", list[0].Name)
	assert.True(t, list[0].Current)
	for i, l := range list {
		assert.Equal(t, i, l.SortOrder)
	}
	assert.Equal(t, "A", list[1].Name)
	assert.Equal(t, "B", list[2].Name)

	_, err = f.sched.TrackCurrentPosition(ctx, home)
	require.ErrorIs(t, err, ErrAlreadyTracked)
	list, err = f.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestTrackCurrentPosition_OfflineInsertsWithoutSnapshot(t *testing.T) {
	f := newMemFixture(t)
	f.provider.errs[gps] = weather.ErrNetworkUnavailable

	loc, err := f.sched.TrackCurrentPosition(context.Background(), gps)
	require.NoError(t, err)
	assert.Nil(t, loc.Snapshot)

	stored, err := f.store.Get(context.Background(), gps)
	require.NoError(t, err)
	assert.True(t, stored.Current)
}

func TestTrackCurrentPosition_ConcurrentCallsInsertOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newMemFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: hacienda, Name: "A", SortOrder: 0}))

	// Both calls pass the list check before either reaches the store.
	var barrier sync.WaitGroup
	barrier.Add(2)
	f.provider.barrier = &barrier

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []weather.Coordinate{home, gps} {
		wg.Add(1)
		go func(i int, c weather.Coordinate) {
			defer wg.Done()
			_, errs[i] = f.sched.TrackCurrentPosition(ctx, c)
		}(i, c)
	}
	wg.Wait()

	tracked := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyTracked)
		tracked++
	}
	assert.Equal(t, 1, tracked)

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	current := 0
	for i, l := range list {
		assert.Equal(t, i, l.SortOrder)
		if l.Current {
			current++
		}
	}
	assert.Equal(t, 1, current)
	assert.True(t, list[0].Current)
}

func TestTrackCurrentPosition_SavedCoordinateKeepsName(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: hacienda, Name: "A", SortOrder: 0}))
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: perla, Name: "Ovalo La Perla", SortOrder: 1}))
	require.NoError(t, f.store.Upsert(ctx, weather.SavedLocation{Coordinate: cultura, Name: "C", SortOrder: 2}))

	loc, err := f.sched.TrackCurrentPosition(ctx, perla)
	require.NoError(t, err)
	assert.Equal(t, "Ovalo La Perla", loc.Name)
	assert.True(t, loc.Current)

	list, err := f.store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Ovalo La Perla", "A", "C"}, []string{list[0].Name, list[1].Name, list[2].Name})
	for i, l := range list {
		assert.Equal(t, i, l.SortOrder)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	f := newMemFixture(t)
	f.sched.metrics = m
	f.provider.errs[cultura] = weather.ErrNetworkUnavailable

	f.sched.RunSyncCycle(context.Background())
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.refreshesTotal.WithLabelValues("success")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.refreshesTotal.WithLabelValues("error")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.alertsTotal), 1e-9)

	_, err = NewMetrics(reg)
	require.Error(t, err, "duplicate registration")
}

func TestStartStop(t *testing.T) {
	f := newMemFixture(t)
	require.NoError(t, f.sched.Start())

	require.Eventually(t, func() bool { return f.sched.Cycles() >= 1 }, 2*time.Second, 10*time.Millisecond)
	f.sched.Stop()

	report, ok := f.sched.LastReport()
	require.True(t, ok)
	assert.Equal(t, Success, report.Outcome)
}
