package store

import (
	"context"
	"sort"
	"sync"

	"github.com/jhosuehag/clima-open/internal/feed"
	"github.com/jhosuehag/clima-open/internal/weather"
)

type memoryEntry struct {
	loc weather.SavedLocation
	seq int64
}

// MemoryStore is a concurrency-safe in-memory implementation of weather.Store
// and weather.PreferencesStore. Nothing survives a restart.
type MemoryStore struct {
	mu sync.RWMutex

	// key: exact coordinate
	data    map[weather.Coordinate]*memoryEntry
	nextSeq int64
	prefs   *weather.Preferences

	updates *feed.Feed[[]weather.SavedLocation]
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:    make(map[weather.Coordinate]*memoryEntry),
		updates: feed.New[[]weather.SavedLocation](),
	}
}

// Get returns the entity stored at c.
func (s *MemoryStore) Get(_ context.Context, c weather.Coordinate) (weather.SavedLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[c]
	if !ok {
		return weather.SavedLocation{}, weather.ErrNotFound
	}
	return e.loc.Clone(), nil
}

// List returns every entity ordered by sort order, then insertion.
func (s *MemoryStore) List(_ context.Context) ([]weather.SavedLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listLocked(), nil
}

// Upsert inserts or fully replaces the entity at loc.Coordinate.
func (s *MemoryStore) Upsert(ctx context.Context, loc weather.SavedLocation) error {
	_, err := s.Update(ctx, loc.Coordinate, func(*weather.SavedLocation, int) (weather.SavedLocation, error) {
		return loc, nil
	})
	return err
}

// Update applies m to the entity at c under the write lock.
func (s *MemoryStore) Update(_ context.Context, c weather.Coordinate, m weather.Mutation) (weather.SavedLocation, error) {
	s.mu.Lock()

	var current *weather.SavedLocation
	e, exists := s.data[c]
	if exists {
		cp := e.loc.Clone()
		current = &cp
	}

	next, err := m(current, s.nextOrderLocked())
	if err != nil {
		s.mu.Unlock()
		return weather.SavedLocation{}, err
	}
	next.Coordinate = c
	next = next.Clone()

	if exists {
		e.loc = next
	} else {
		s.data[c] = &memoryEntry{loc: next, seq: s.nextSeq}
		s.nextSeq++
	}
	s.publishLocked()
	s.mu.Unlock()

	return next.Clone(), nil
}

// Delete removes the entity at c. Missing entities are ignored.
func (s *MemoryStore) Delete(_ context.Context, c weather.Coordinate) error {
	s.mu.Lock()
	_, ok := s.data[c]
	delete(s.data, c)
	if ok {
		s.publishLocked()
	}
	s.mu.Unlock()
	return nil
}

// Reorder assigns each coordinate its index. Unknown coordinates abort the
// whole operation with weather.ErrNotFound. An order that skips or repeats a
// stored coordinate fails with weather.ErrInvalidOrder.
func (s *MemoryStore) Reorder(_ context.Context, order []weather.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[weather.Coordinate]struct{}, len(order))
	for _, c := range order {
		if _, ok := s.data[c]; !ok {
			return weather.ErrNotFound
		}
		if _, dup := seen[c]; dup {
			return weather.ErrInvalidOrder
		}
		seen[c] = struct{}{}
	}
	if len(order) != len(s.data) {
		return weather.ErrInvalidOrder
	}

	for i, c := range order {
		s.data[c].loc.SortOrder = i
	}
	s.publishLocked()
	return nil
}

// InsertAtTop stores loc at position 0 and renumbers the rest 1..n in their
// current order. An existing entity keeps its name and, when loc has none, its
// snapshot. A loc flagged Current fails with weather.ErrAlreadyTracked while
// another entity carries the flag.
func (s *MemoryStore) InsertAtTop(_ context.Context, loc weather.SavedLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if loc.Current {
		for _, e := range s.data {
			if e.loc.Current {
				return weather.ErrAlreadyTracked
			}
		}
	}

	loc = loc.Clone()
	loc.SortOrder = 0
	if e, ok := s.data[loc.Coordinate]; ok {
		loc.Name = e.loc.Name
		if loc.Snapshot == nil {
			loc.Snapshot = e.loc.Snapshot
		}
		e.loc = loc
	} else {
		s.data[loc.Coordinate] = &memoryEntry{loc: loc, seq: s.nextSeq}
		s.nextSeq++
	}

	order := 1
	for _, l := range s.listLocked() {
		if l.Coordinate == loc.Coordinate {
			continue
		}
		s.data[l.Coordinate].loc.SortOrder = order
		order++
	}
	s.publishLocked()
	return nil
}

// Subscribe streams the ordered list after every change.
func (s *MemoryStore) Subscribe() (<-chan []weather.SavedLocation, func()) {
	return s.updates.Subscribe()
}

// HoldUpdates suspends list delivery to subscribers.
func (s *MemoryStore) HoldUpdates() { s.updates.Hold() }

// ReleaseUpdates resumes list delivery with the latest list.
func (s *MemoryStore) ReleaseUpdates() { s.updates.Release() }

// GetPreferences returns the stored preferences or the defaults.
func (s *MemoryStore) GetPreferences(_ context.Context) (weather.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.prefs == nil {
		return weather.DefaultPreferences(), nil
	}
	return *s.prefs, nil
}

// SavePreferences replaces the stored preferences.
func (s *MemoryStore) SavePreferences(_ context.Context, p weather.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = &p
	return nil
}

// publishLocked runs under the write lock so subscribers see lists in commit order.
func (s *MemoryStore) publishLocked() {
	s.updates.Publish(s.listLocked())
}

func (s *MemoryStore) nextOrderLocked() int {
	next := 0
	for _, e := range s.data {
		if e.loc.SortOrder >= next {
			next = e.loc.SortOrder + 1
		}
	}
	return next
}

func (s *MemoryStore) listLocked() []weather.SavedLocation {
	entries := make([]*memoryEntry, 0, len(s.data))
	for _, e := range s.data {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].loc.SortOrder != entries[j].loc.SortOrder {
			return entries[i].loc.SortOrder < entries[j].loc.SortOrder
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]weather.SavedLocation, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.loc.Clone())
	}
	return out
}
