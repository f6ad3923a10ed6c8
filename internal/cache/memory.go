package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memEntry struct {
	data      []byte
	writtenAt time.Time
	expiresAt *time.Time
	priority  int
}

// MemoryStore is an in-memory Store with the same semantics as the
// sqlite store. It backs tests and serves as a last-resort fallback when
// the cache file cannot be opened.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[Key]memEntry
	maxBytes int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store without a quota.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Key]memEntry), now: time.Now}
}

// NewBoundedMemoryStore creates an in-memory store capped at maxBytes of
// payload, with the same one-shot eviction behavior as the sqlite store.
func NewBoundedMemoryStore(maxBytes int64) *MemoryStore {
	return &MemoryStore{entries: make(map[Key]memEntry), maxBytes: maxBytes, now: time.Now}
}

func (s *MemoryStore) Save(key Key, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fits(key, int64(len(data))) {
		for k, e := range s.entries {
			if e.priority == priorityEvict {
				delete(s.entries, k)
			}
		}
		if !s.fits(key, int64(len(data))) {
			return ErrQuotaExceeded
		}
	}

	now := s.now()
	e := memEntry{data: data, writtenAt: now, priority: priorityOf(key)}
	if ttl > 0 {
		exp := now.Add(ttl)
		e.expiresAt = &exp
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Read(key Key, dest any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if e.expiresAt != nil && s.now().After(*e.expiresAt) {
		delete(s.entries, key)
		return false, nil
	}
	if err := json.Unmarshal(e.data, dest); err != nil {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Remove(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Exists(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if e.expiresAt != nil && s.now().After(*e.expiresAt) {
		delete(s.entries, key)
		return false
	}
	return true
}

func (s *MemoryStore) Age(key Key) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}
	if e.expiresAt != nil && s.now().After(*e.expiresAt) {
		return 0, false
	}
	return s.now().Sub(e.writtenAt), true
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[Key]memEntry)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) fits(key Key, size int64) bool {
	if s.maxBytes <= 0 {
		return true
	}
	var total int64
	for k, e := range s.entries {
		if k == key {
			continue
		}
		total += int64(len(e.data))
	}
	return total+size <= s.maxBytes
}
