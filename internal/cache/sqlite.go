package cache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/mledur/billkeeper/internal/metrics"
)

type entry struct {
	Key       string `gorm:"primaryKey"`
	Value     []byte
	WrittenAt time.Time
	ExpiresAt *time.Time
	Priority  int
}

func (entry) TableName() string { return "cache_entries" }

// SQLiteStore persists cache entries in a local sqlite file. It is the
// client's only durable store; the backend never sees it.
type SQLiteStore struct {
	db       *gorm.DB
	maxBytes int64
	log      *logrus.Logger
	now      func() time.Time
}

// NewSQLiteStore opens (or creates) the cache database at path.
// maxBytes caps the total payload size; zero or negative disables the cap.
func NewSQLiteStore(path string, maxBytes int64, log *logrus.Logger) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cache schema: %w", err)
	}
	return &SQLiteStore{db: db, maxBytes: maxBytes, log: log, now: time.Now}, nil
}

// Save writes the value under key, evicting low-priority entries once if
// the quota would be exceeded.
func (s *SQLiteStore) Save(key Key, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
	}

	if !s.fits(key, int64(len(data))) {
		s.evictLowPriority()
		if !s.fits(key, int64(len(data))) {
			s.log.Errorf("Cache write for %q rejected: quota of %d bytes exceeded", key, s.maxBytes)
			return ErrQuotaExceeded
		}
	}

	now := s.now()
	e := entry{
		Key:       string(key),
		Value:     data,
		WrittenAt: now,
		Priority:  priorityOf(key),
	}
	if ttl > 0 {
		exp := now.Add(ttl)
		e.ExpiresAt = &exp
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&e)
	if res.Error != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, res.Error)
	}
	return nil
}

// Read loads the entry into dest. Expired or corrupted entries are
// evicted and reported as a miss, never as an error.
func (s *SQLiteStore) Read(key Key, dest any) (bool, error) {
	var e entry
	res := s.db.First(&e, "key = ?", string(key))
	if res.Error != nil {
		if res.Error == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache entry %q: %w", key, res.Error)
	}
	if e.ExpiresAt != nil && s.now().After(*e.ExpiresAt) {
		s.delete(key)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		return false, nil
	}
	if err := json.Unmarshal(e.Value, dest); err != nil {
		s.log.Warnf("Corrupted cache entry %q evicted: %v", key, err)
		s.delete(key)
		metrics.CacheEvictions.WithLabelValues("corrupted").Inc()
		return false, nil
	}
	return true, nil
}

// Remove deletes the entry if present.
func (s *SQLiteStore) Remove(key Key) error {
	return s.delete(key)
}

// Exists reports whether a live entry is stored under key.
func (s *SQLiteStore) Exists(key Key) bool {
	var e entry
	if err := s.db.First(&e, "key = ?", string(key)).Error; err != nil {
		return false
	}
	if e.ExpiresAt != nil && s.now().After(*e.ExpiresAt) {
		s.delete(key)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		return false
	}
	return true
}

// Age returns the time elapsed since the entry was written.
func (s *SQLiteStore) Age(key Key) (time.Duration, bool) {
	var e entry
	if err := s.db.First(&e, "key = ?", string(key)).Error; err != nil {
		return 0, false
	}
	if e.ExpiresAt != nil && s.now().After(*e.ExpiresAt) {
		s.delete(key)
		return 0, false
	}
	return s.now().Sub(e.WrittenAt), true
}

// Clear removes every entry, e.g. on logout.
func (s *SQLiteStore) Clear() error {
	if err := s.db.Where("1 = 1").Delete(&entry{}).Error; err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func (s *SQLiteStore) delete(key Key) error {
	return s.db.Delete(&entry{}, "key = ?", string(key)).Error
}

// fits reports whether writing size bytes under key stays within quota,
// not counting the entry the write would replace.
func (s *SQLiteStore) fits(key Key, size int64) bool {
	if s.maxBytes <= 0 {
		return true
	}
	var total int64
	s.db.Model(&entry{}).
		Select("COALESCE(SUM(LENGTH(value)), 0)").
		Where("key <> ?", string(key)).
		Scan(&total)
	return total+size <= s.maxBytes
}

func (s *SQLiteStore) evictLowPriority() {
	res := s.db.Delete(&entry{}, "priority = ?", priorityEvict)
	if res.Error != nil {
		s.log.Warnf("Failed to evict low-priority cache entries: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		s.log.Infof("Evicted %d low-priority cache entries to free quota", res.RowsAffected)
		metrics.CacheEvictions.WithLabelValues("quota").Add(float64(res.RowsAffected))
	}
}
