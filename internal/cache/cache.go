package cache

import (
	"errors"
	"time"
)

// Key identifies one logical cache slot. Each key holds a single entry.
type Key string

const (
	KeySession      Key = "session"
	KeyFilter       Key = "filter"
	KeyAccounts     Key = "accounts"
	KeySweepLastRun Key = "sweep_last_run"
	KeyReportCache  Key = "report_cache"
	KeyDiagnostics  Key = "diagnostics"
)

// Priority of a key when the store runs out of space. Low-priority
// entries are evicted first; they are always recomputable.
const (
	priorityKeep  = 0
	priorityEvict = 1
)

func priorityOf(k Key) int {
	switch k {
	case KeyReportCache, KeyDiagnostics:
		return priorityEvict
	}
	return priorityKeep
}

// ErrQuotaExceeded is returned when a write does not fit even after the
// one-shot eviction of low-priority entries.
var ErrQuotaExceeded = errors.New("cache quota exceeded")

// Store is a typed persistent key-value store for the client session.
// Read never fails on corrupted data; the offending entry is evicted and
// reported as a miss.
type Store interface {
	// Save marshals value and writes it under key. A zero ttl means the
	// entry never expires.
	Save(key Key, value any, ttl time.Duration) error
	// Read unmarshals the entry into dest. It returns false on a miss,
	// on an expired entry (which is evicted), or on corrupted data.
	Read(key Key, dest any) (bool, error)
	// Remove deletes the entry if present.
	Remove(key Key) error
	// Exists reports whether a live (non-expired) entry is present.
	Exists(key Key) bool
	// Age returns how long ago the entry was written.
	Age(key Key) (time.Duration, bool)
	// Clear removes every entry.
	Clear() error
	Close() error
}
