package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/jhosuehag/clima-open/internal/feed"
	"github.com/jhosuehag/clima-open/internal/weather"
)

// locationRow is the persisted form of weather.SavedLocation.
type locationRow struct {
	Latitude  float64           `gorm:"primaryKey;autoIncrement:false"`
	Longitude float64           `gorm:"primaryKey;autoIncrement:false"`
	Name      string            `gorm:"not null"`
	SortOrder int               `gorm:"not null;index"`
	Current   bool              `gorm:"column:is_current;not null"`
	Snapshot  *weather.Snapshot `gorm:"serializer:json"`
	// Seq records insertion order and breaks sort order ties.
	Seq int64 `gorm:"not null"`
}

func (locationRow) TableName() string { return "saved_locations" }

func (r locationRow) toLocation() weather.SavedLocation {
	return weather.SavedLocation{
		Coordinate: weather.Coordinate{Latitude: r.Latitude, Longitude: r.Longitude},
		Name:       r.Name,
		Snapshot:   r.Snapshot,
		SortOrder:  r.SortOrder,
		Current:    r.Current,
	}
}

type preferencesRow struct {
	ID                   uint   `gorm:"primaryKey"`
	Unit                 string `gorm:"not null"`
	NotificationsEnabled bool   `gorm:"not null"`
	FirstRun             bool   `gorm:"not null"`
}

func (preferencesRow) TableName() string { return "preferences" }

const preferencesRowID = 1

// SQLiteStore persists locations and preferences with gorm on sqlite.
// Writes are serialized by mu and run in transactions; the pool is limited to
// one connection so readers never see a transaction half applied.
type SQLiteStore struct {
	db      *gorm.DB
	mu      sync.Mutex
	updates *feed.Feed[[]weather.SavedLocation]
}

// OpenSQLite opens (or creates) the database at path. Use ":memory:" for an
// ephemeral database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&locationRow{}, &preferencesRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{
		db:      db,
		updates: feed.New[[]weather.SavedLocation](),
	}, nil
}

// Close releases the database handle and ends every subscription.
func (s *SQLiteStore) Close() error {
	s.updates.Close()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, c weather.Coordinate) (weather.SavedLocation, error) {
	row, err := findRow(s.db.WithContext(ctx), c)
	if err != nil {
		return weather.SavedLocation{}, err
	}
	if row == nil {
		return weather.SavedLocation{}, weather.ErrNotFound
	}
	return row.toLocation(), nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]weather.SavedLocation, error) {
	return listRows(s.db.WithContext(ctx))
}

func (s *SQLiteStore) Upsert(ctx context.Context, loc weather.SavedLocation) error {
	_, err := s.Update(ctx, loc.Coordinate, func(*weather.SavedLocation, int) (weather.SavedLocation, error) {
		return loc, nil
	})
	return err
}

func (s *SQLiteStore) Update(ctx context.Context, c weather.Coordinate, m weather.Mutation) (weather.SavedLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var saved weather.SavedLocation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findRow(tx, c)
		if err != nil {
			return err
		}

		var current *weather.SavedLocation
		seq := int64(0)
		if row != nil {
			loc := row.toLocation()
			current = &loc
			seq = row.Seq
		} else if seq, err = nextSeq(tx); err != nil {
			return err
		}

		nextOrder, err := nextSortOrder(tx)
		if err != nil {
			return err
		}

		next, err := m(current, nextOrder)
		if err != nil {
			return err
		}
		next.Coordinate = c

		newRow := locationRow{
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			Name:      next.Name,
			SortOrder: next.SortOrder,
			Current:   next.Current,
			Snapshot:  next.Snapshot,
			Seq:       seq,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "latitude"}, {Name: "longitude"}},
			UpdateAll: true,
		}).Create(&newRow).Error; err != nil {
			return fmt.Errorf("upsert location: %w", err)
		}
		saved = newRow.toLocation()
		return nil
	})
	if err != nil {
		return weather.SavedLocation{}, err
	}

	s.publishLocked(ctx)
	return saved, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, c weather.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).
		Where("latitude = ? AND longitude = ?", c.Latitude, c.Longitude).
		Delete(&locationRow{})
	if res.Error != nil {
		return fmt.Errorf("delete location: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.publishLocked(ctx)
	}
	return nil
}

func (s *SQLiteStore) Reorder(ctx context.Context, order []weather.Coordinate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := make(map[weather.Coordinate]struct{}, len(order))
		for i, c := range order {
			if _, dup := seen[c]; dup {
				return weather.ErrInvalidOrder
			}
			seen[c] = struct{}{}

			res := tx.Model(&locationRow{}).
				Where("latitude = ? AND longitude = ?", c.Latitude, c.Longitude).
				Update("sort_order", i)
			if res.Error != nil {
				return fmt.Errorf("reorder location: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return weather.ErrNotFound
			}
		}

		var stored int64
		if err := tx.Model(&locationRow{}).Count(&stored).Error; err != nil {
			return fmt.Errorf("count locations: %w", err)
		}
		if stored != int64(len(order)) {
			return weather.ErrInvalidOrder
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishLocked(ctx)
	return nil
}

func (s *SQLiteStore) InsertAtTop(ctx context.Context, loc weather.SavedLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := loc.Coordinate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if loc.Current {
			var tracked int64
			if err := tx.Model(&locationRow{}).Where("is_current = ?", true).Count(&tracked).Error; err != nil {
				return fmt.Errorf("count current: %w", err)
			}
			if tracked > 0 {
				return weather.ErrAlreadyTracked
			}
		}

		existing, err := findRow(tx, c)
		if err != nil {
			return err
		}
		row := locationRow{
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			Name:      loc.Name,
			SortOrder: 0,
			Current:   loc.Current,
			Snapshot:  loc.Snapshot,
		}
		if existing != nil {
			row.Seq = existing.Seq
			row.Name = existing.Name
			if row.Snapshot == nil {
				row.Snapshot = existing.Snapshot
			}
		} else if row.Seq, err = nextSeq(tx); err != nil {
			return err
		}

		var others []locationRow
		if err := tx.Where("NOT (latitude = ? AND longitude = ?)", c.Latitude, c.Longitude).
			Order("sort_order ASC").Order("seq ASC").
			Find(&others).Error; err != nil {
			return fmt.Errorf("list locations: %w", err)
		}
		for i, o := range others {
			if o.SortOrder == i+1 {
				continue
			}
			if err := tx.Model(&locationRow{}).
				Where("latitude = ? AND longitude = ?", o.Latitude, o.Longitude).
				Update("sort_order", i+1).Error; err != nil {
				return fmt.Errorf("shift locations: %w", err)
			}
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "latitude"}, {Name: "longitude"}},
			UpdateAll: true,
		}).Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("insert at top: %w", err)
	}

	s.publishLocked(ctx)
	return nil
}

func (s *SQLiteStore) Subscribe() (<-chan []weather.SavedLocation, func()) {
	return s.updates.Subscribe()
}

// HoldUpdates suspends list delivery to subscribers.
func (s *SQLiteStore) HoldUpdates() { s.updates.Hold() }

// ReleaseUpdates resumes list delivery with the latest list.
func (s *SQLiteStore) ReleaseUpdates() { s.updates.Release() }

func (s *SQLiteStore) GetPreferences(ctx context.Context) (weather.Preferences, error) {
	var row preferencesRow
	err := s.db.WithContext(ctx).Take(&row, preferencesRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return weather.DefaultPreferences(), nil
	}
	if err != nil {
		return weather.Preferences{}, fmt.Errorf("read preferences: %w", err)
	}
	return weather.Preferences{
		Unit:                 weather.TemperatureUnit(row.Unit),
		NotificationsEnabled: row.NotificationsEnabled,
		FirstRun:             row.FirstRun,
	}, nil
}

func (s *SQLiteStore) SavePreferences(ctx context.Context, p weather.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := preferencesRow{
		ID:                   preferencesRowID,
		Unit:                 string(p.Unit),
		NotificationsEnabled: p.NotificationsEnabled,
		FirstRun:             p.FirstRun,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// publishLocked must run with s.mu held so lists are published in commit order.
func (s *SQLiteStore) publishLocked(ctx context.Context) {
	list, err := listRows(s.db.WithContext(context.WithoutCancel(ctx)))
	if err != nil {
		return
	}
	s.updates.Publish(list)
}

func findRow(db *gorm.DB, c weather.Coordinate) (*locationRow, error) {
	var row locationRow
	err := db.Where("latitude = ? AND longitude = ?", c.Latitude, c.Longitude).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read location: %w", err)
	}
	return &row, nil
}

func listRows(db *gorm.DB) ([]weather.SavedLocation, error) {
	var rows []locationRow
	if err := db.Order("sort_order ASC").Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	out := make([]weather.SavedLocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toLocation())
	}
	return out, nil
}

func nextSortOrder(tx *gorm.DB) (int, error) {
	var next int
	err := tx.Model(&locationRow{}).Select("COALESCE(MAX(sort_order) + 1, 0)").Scan(&next).Error
	if err != nil {
		return 0, fmt.Errorf("next sort order: %w", err)
	}
	return next, nil
}

func nextSeq(tx *gorm.DB) (int64, error) {
	var next int64
	err := tx.Model(&locationRow{}).Select("COALESCE(MAX(seq) + 1, 0)").Scan(&next).Error
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return next, nil
}
