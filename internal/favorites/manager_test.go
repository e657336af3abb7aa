package favorites

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhosuehag/clima-open/internal/position"
	"github.com/jhosuehag/clima-open/internal/store"
	"github.com/jhosuehag/clima-open/internal/weather"
)

var (
	coordA = weather.Coordinate{Latitude: -12.006014, Longitude: -77.005777}
	coordB = weather.Coordinate{Latitude: -12.061953, Longitude: -77.117308}
	coordC = weather.Coordinate{Latitude: -12.088113, Longitude: -77.00377}
	gps    = weather.Coordinate{Latitude: -12.1211, Longitude: -77.0297}
)

var landmarks = []weather.Landmark{
	{Name: "Metro La Hacienda", Coordinate: coordA},
	{Name: "Ovalo La Perla", Coordinate: coordB},
	{Name: "Estacion La Cultura", Coordinate: coordC},
}

type stubProvider struct {
	calls atomic.Int32
	err   error
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) FetchCurrentAndHourly(context.Context, weather.Coordinate) (weather.Snapshot, error) {
	p.calls.Add(1)
	if p.err != nil {
		return weather.Snapshot{}, p.err
	}
	return weather.Snapshot{Temperature: 20, Code: weather.CodeClear, FetchedAt: time.Now().UTC()}, nil
}

func (p *stubProvider) FetchDaily(context.Context, weather.Coordinate) ([]weather.DailyForecast, error) {
	return nil, p.err
}

type stubGeocoder struct {
	calls atomic.Int32
}

func (g *stubGeocoder) Search(_ context.Context, q string) ([]weather.Place, error) {
	g.calls.Add(1)
	return []weather.Place{{ID: "1", Name: q}}, nil
}

type fixture struct {
	mgr      *Manager
	store    *store.MemoryStore
	provider *stubProvider
	geocoder *stubGeocoder
	tracker  *position.Tracker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	prov := &stubProvider{}
	geo := &stubGeocoder{}
	tracker := position.NewTracker(nil)
	cache := weather.NewCache(st, prov, weather.WithLandmarks(landmarks))

	mgr := NewManager(Config{
		Store:       st,
		Preferences: st,
		Cache:       cache,
		Geocoder:    geo,
		Position:    tracker,
		Landmarks:   landmarks,
		CurrentName: "Current Location",
	})
	return fixture{mgr: mgr, store: st, provider: prov, geocoder: geo, tracker: tracker}
}

func names(t *testing.T, m *Manager) []string {
	t.Helper()
	list, err := m.List(context.Background())
	require.NoError(t, err)
	out := make([]string, 0, len(list))
	for i, loc := range list {
		assert.Equal(t, i, loc.SortOrder, "sort order of %s", loc.Name)
		out = append(out, loc.Name)
	}
	return out
}

func seedABC(t *testing.T, f fixture) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.mgr.Add(ctx, coordA, "A"))
	require.NoError(t, f.mgr.Add(ctx, coordB, "B"))
	require.NoError(t, f.mgr.Add(ctx, coordC, "C"))
}

func TestManager_AddAppends(t *testing.T) {
	f := newFixture(t)
	seedABC(t, f)

	assert.Equal(t, []string{"A", "B", "C"}, names(t, f.mgr))
	assert.Equal(t, int32(3), f.provider.calls.Load())
}

func TestManager_AddDefaultName(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.Add(context.Background(), coordB, "  "))
	assert.Equal(t, []string{"Ovalo La Perla"}, names(t, f.mgr))
}

func TestManager_AddFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.err = weather.ErrNetworkUnavailable

	err := f.mgr.Add(context.Background(), coordA, "A")
	require.ErrorIs(t, err, weather.ErrNetworkUnavailable)
	assert.Empty(t, names(t, f.mgr))
}

func TestManager_RemoveIdempotent(t *testing.T) {
	f := newFixture(t)
	seedABC(t, f)
	ctx := context.Background()

	require.NoError(t, f.mgr.Remove(ctx, coordB))
	require.NoError(t, f.mgr.Remove(ctx, coordB))

	list, err := f.mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Name)
	assert.Equal(t, "C", list[1].Name)
}

func TestManager_Rename(t *testing.T) {
	f := newFixture(t)
	seedABC(t, f)
	ctx := context.Background()
	calls := f.provider.calls.Load()

	require.NoError(t, f.mgr.Rename(ctx, coordB, "Beach"))
	assert.Equal(t, []string{"A", "Beach", "C"}, names(t, f.mgr))
	assert.Equal(t, calls, f.provider.calls.Load(), "rename must not fetch")

	require.ErrorIs(t, f.mgr.Rename(ctx, coordB, " "), ErrBlankName)
	require.ErrorIs(t, f.mgr.Rename(ctx, gps, "Nowhere"), weather.ErrNotFound)
}

func TestManager_Reorder(t *testing.T) {
	f := newFixture(t)
	seedABC(t, f)
	ctx := context.Background()
	calls := f.provider.calls.Load()

	order := []weather.Coordinate{coordC, coordA, coordB}
	require.NoError(t, f.mgr.Reorder(ctx, order))
	assert.Equal(t, []string{"C", "A", "B"}, names(t, f.mgr))

	// Applying the same order again changes nothing.
	require.NoError(t, f.mgr.Reorder(ctx, order))
	assert.Equal(t, []string{"C", "A", "B"}, names(t, f.mgr))
	assert.Equal(t, calls, f.provider.calls.Load(), "reorder must not fetch")

	require.ErrorIs(t, f.mgr.Reorder(ctx, []weather.Coordinate{coordA}), weather.ErrInvalidOrder)
	require.ErrorIs(t, f.mgr.Reorder(ctx, []weather.Coordinate{coordA, coordA, coordB}), weather.ErrInvalidOrder)
	assert.Equal(t, []string{"C", "A", "B"}, names(t, f.mgr))
}

func TestManager_MoveDown(t *testing.T) {
	f := newFixture(t)
	seedABC(t, f)
	ctx := context.Background()

	require.NoError(t, f.mgr.MoveDown(ctx, coordA))
	assert.Equal(t, []string{"B", "A", "C"}, names(t, f.mgr))

	require.NoError(t, f.mgr.MoveDown(ctx, coordC))
	assert.Equal(t, []string{"B", "A", "C"}, names(t, f.mgr), "no-op at the bottom")
}

func TestManager_MoveUp(t *testing.T) {
	f := newFixture(t)
	seedABC(t, f)
	ctx := context.Background()

	require.NoError(t, f.mgr.MoveUp(ctx, coordC))
	assert.Equal(t, []string{"A", "C", "B"}, names(t, f.mgr))

	require.NoError(t, f.mgr.MoveUp(ctx, coordA))
	assert.Equal(t, []string{"A", "C", "B"}, names(t, f.mgr), "no-op at the top")

	require.ErrorIs(t, f.mgr.MoveUp(ctx, gps), weather.ErrNotFound)
}

func TestManager_OrderingHoldsListUpdates(t *testing.T) {
	f := newFixture(t)
	seedABC(t, f)
	ctx := context.Background()

	updates, cancel := f.store.Subscribe()
	defer cancel()

	f.mgr.BeginOrdering()
	f.mgr.BeginOrdering()
	assert.True(t, f.mgr.Ordering())

	// A background refresh lands in storage while the gesture is active.
	require.NoError(t, f.mgr.Add(ctx, coordA, ""))
	select {
	case <-updates:
		t.Fatal("list update delivered during ordering")
	case <-time.After(50 * time.Millisecond):
	}

	stored, err := f.store.Get(ctx, coordA)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.SortOrder)

	f.mgr.EndOrdering()
	assert.False(t, f.mgr.Ordering())
	select {
	case list := <-updates:
		require.Len(t, list, 3)
		assert.Equal(t, "A", list[0].Name)
	case <-time.After(time.Second):
		t.Fatal("no list update after ordering ended")
	}

	f.mgr.EndOrdering()
}

func TestManager_Search(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	places, err := f.mgr.Search(ctx, "   ")
	require.NoError(t, err)
	assert.Nil(t, places)
	assert.Zero(t, f.geocoder.calls.Load())

	places, err = f.mgr.Search(ctx, " Lima ")
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Lima", places[0].Name)
}

func TestManager_BootstrapFirstRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tracker.Set(gps)

	seeded, err := f.mgr.Bootstrap(ctx)
	require.NoError(t, err)
	assert.True(t, seeded)

	assert.Equal(t, []string{"Current Location", "Metro La Hacienda", "Ovalo La Perla", "Estacion La Cultura"}, names(t, f.mgr))
	current, err := f.store.Get(ctx, gps)
	require.NoError(t, err)
	assert.True(t, current.Current)
	assert.Zero(t, f.provider.calls.Load())

	prefs, err := f.store.GetPreferences(ctx)
	require.NoError(t, err)
	assert.False(t, prefs.FirstRun)

	seeded, err = f.mgr.Bootstrap(ctx)
	require.NoError(t, err)
	assert.False(t, seeded)
}

func TestManager_BootstrapWithoutPosition(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Metro La Hacienda", "Ovalo La Perla", "Estacion La Cultura"}, names(t, f.mgr))
}

func TestManager_RestoreDefaults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Add(ctx, gps, "Home"))
	require.NoError(t, f.mgr.Rename(ctx, gps, "Home"))
	require.NoError(t, f.mgr.Add(ctx, coordB, "Beach"))

	require.NoError(t, f.mgr.RestoreDefaults(ctx))
	assert.Equal(t, []string{"Metro La Hacienda", "Ovalo La Perla", "Estacion La Cultura"}, names(t, f.mgr))

	_, err := f.store.Get(ctx, gps)
	require.True(t, errors.Is(err, weather.ErrNotFound))
}
