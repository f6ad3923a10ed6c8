package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mledur/billkeeper/internal/cache"
	"github.com/mledur/billkeeper/internal/connectivity"
	"github.com/mledur/billkeeper/internal/gateway"
	"github.com/mledur/billkeeper/internal/lifecycle"
	"github.com/mledur/billkeeper/internal/models"
	"github.com/mledur/billkeeper/internal/report"
)

// Backend is the record capability set the orchestrator needs from the
// gateway.
type Backend interface {
	ListAccounts(ctx context.Context, ownerID string) ([]models.Account, error)
	InsertAccount(ctx context.Context, acc models.Account) (models.Account, error)
	UpdateAccount(ctx context.Context, id string, patch models.AccountPatch) (models.Account, error)
	DeleteAccount(ctx context.Context, id string) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time) (models.Account, error)
}

// Connectivity is the read-and-trigger surface of the monitor.
type Connectivity interface {
	Offline() bool
	State() connectivity.State
	Kick()
	CheckNow(ctx context.Context) bool
}

// Syncer owns the one mutable in-memory record set and serializes every
// command through it: a command holds the lock from the gateway call to
// the in-memory update, so writes to the same record observe program
// order and no command sees a half-applied mutation.
type Syncer struct {
	backend Backend
	conn    Connectivity
	store   cache.Store
	engine  *lifecycle.Engine
	log     *logrus.Logger
	now     func() time.Time

	mu       sync.RWMutex
	session  models.Session
	accounts []models.Account
	filter   models.Filter
	degraded bool
}

// NewSyncer wires the orchestrator over its collaborators.
func NewSyncer(backend Backend, conn Connectivity, store cache.Store, engine *lifecycle.Engine, log *logrus.Logger) *Syncer {
	return &Syncer{
		backend: backend,
		conn:    conn,
		store:   store,
		engine:  engine,
		log:     log,
		now:     time.Now,
	}
}

// Start begins a session: cached filter and record set first for an
// immediate render, then a connectivity probe, then either an
// authoritative fetch (online) or the cached set with the session marked
// degraded (offline). Offline is state, not an error.
func (s *Syncer) Start(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = session
	if err := s.store.Save(cache.KeySession, session, 0); err != nil {
		s.log.Warnf("Failed to cache session: %v", err)
	}

	var f models.Filter
	if ok, err := s.store.Read(cache.KeyFilter, &f); err != nil {
		s.log.Warnf("Failed to read cached filter: %v", err)
	} else if ok {
		s.filter = f
	}

	var cached []models.Account
	if ok, err := s.store.Read(cache.KeyAccounts, &cached); err != nil {
		s.log.Warnf("Failed to read cached accounts: %v", err)
	} else if ok {
		s.accounts = cached
	}

	if s.conn.CheckNow(ctx) {
		if err := s.fetchLocked(ctx); err != nil {
			return err
		}
		s.log.Infof("Session started online with %d accounts", len(s.accounts))
		return nil
	}

	// Offline start: serve the cached set, but re-derive statuses so the
	// fallback stays lifecycle-consistent. No remote updates are queued.
	s.degraded = true
	today := models.DateOf(s.now())
	s.accounts, _ = s.engine.Sweep(s.accounts, today, false)
	s.log.Warnf("Session started degraded with %d cached accounts", len(s.accounts))
	return nil
}

// Refresh is the window-focus and network-regained trigger: probe, and
// when online re-fetch the authoritative set and run the sweep.
func (s *Syncer) Refresh(ctx context.Context) error {
	s.conn.Kick()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.conn.CheckNow(ctx) {
		s.degraded = true
		today := models.DateOf(s.now())
		s.accounts, _ = s.engine.Sweep(s.accounts, today, false)
		return nil
	}
	return s.fetchLocked(ctx)
}

// RunDailySweep applies the due-date sweep to the current set if it has
// not run today, returning the newly overdue accounts.
func (s *Syncer) RunDailySweep(ctx context.Context) []models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := models.DateOf(s.now())
	if !s.engine.Due(today) {
		return nil
	}
	updated, flipped := s.engine.Sweep(s.accounts, today, !s.conn.Offline())
	s.accounts = updated
	s.persistLocked()
	return flipped
}

// Accounts returns a snapshot of the full record set.
func (s *Syncer) Accounts() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Filtered returns the record set restricted by the active filter,
// source order preserved.
func (s *Syncer) Filtered() []models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return report.ApplyFilter(s.accounts, s.filter)
}

// Report aggregates the current set for the given month. The result is
// cached only as an evictable convenience entry and always recomputed
// here, so it can never drift from the records.
func (s *Syncer) Report(month time.Month, year int) models.Report {
	s.mu.RLock()
	r := report.Build(s.accounts, month, year)
	s.mu.RUnlock()
	if err := s.store.Save(cache.KeyReportCache, r, time.Hour); err != nil {
		s.log.Debugf("Skipped report cache write: %v", err)
	}
	return r
}

// Filter returns the active filter.
func (s *Syncer) Filter() models.Filter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter
}

// SetFilter validates and persists the filter. The filter survives the
// session regardless of connectivity.
func (s *Syncer) SetFilter(f models.Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = f
	if err := s.store.Save(cache.KeyFilter, f, 0); err != nil {
		s.log.Warnf("Failed to persist filter: %v", err)
	}
	return nil
}

// Add creates a new account. A due date already in the past makes the
// record overdue immediately, not open.
func (s *Syncer) Add(ctx context.Context, acc models.Account) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc.OwnerID = s.session.OwnerID
	acc.PaymentDate = nil
	acc.Status = lifecycle.StatusFor(acc, models.DateOf(s.now()))
	if err := acc.Validate(); err != nil {
		return models.Account{}, err
	}
	if err := s.ensureOnline(ctx); err != nil {
		return models.Account{}, err
	}

	created, err := s.backend.InsertAccount(ctx, acc)
	if err != nil {
		s.log.Errorf("Insert failed for owner %s: %v", acc.OwnerID, err)
		return models.Account{}, err
	}
	created.Status = lifecycle.StatusFor(created, models.DateOf(s.now()))
	s.accounts = append(s.accounts, created)
	s.persistLocked()
	s.log.Infof("Account %s created for owner %s", created.ID, created.OwnerID)
	return created, nil
}

// Update applies a partial edit. A due-date change may flip the record
// between open and overdue. On a stale id the record is dropped locally
// and the not-found error still reaches the caller.
func (s *Syncer) Update(ctx context.Context, id string, patch models.AccountPatch) (models.Account, error) {
	if err := patch.Validate(); err != nil {
		return models.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return models.Account{}, gateway.ErrNotFound
	}
	if err := s.ensureOnline(ctx); err != nil {
		return models.Account{}, err
	}

	updated, err := s.backend.UpdateAccount(ctx, id, patch)
	if err != nil {
		s.handleStaleLocked(id, err)
		s.log.Errorf("Update failed for account %s (owner %s): %v", id, s.session.OwnerID, err)
		return models.Account{}, err
	}
	if updated.PaymentDate == nil {
		updated.Status = lifecycle.StatusFor(updated, models.DateOf(s.now()))
	}
	s.accounts[idx] = updated
	s.persistLocked()
	return updated, nil
}

// Delete removes an account.
func (s *Syncer) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return gateway.ErrNotFound
	}
	if err := s.ensureOnline(ctx); err != nil {
		return err
	}

	if err := s.backend.DeleteAccount(ctx, id); err != nil {
		s.handleStaleLocked(id, err)
		s.log.Errorf("Delete failed for account %s (owner %s): %v", id, s.session.OwnerID, err)
		return err
	}
	s.removeLocked(id)
	s.persistLocked()
	s.log.Infof("Account %s deleted", id)
	return nil
}

// MarkPaid transitions an account to paid, setting its payment date to
// now. Unknown ids and records of other owners are rejected without a
// remote call and without touching the set.
func (s *Syncer) MarkPaid(ctx context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return models.Account{}, gateway.ErrNotFound
	}
	if s.accounts[idx].Status == models.StatusPaid {
		return s.accounts[idx], nil
	}
	if err := s.ensureOnline(ctx); err != nil {
		return models.Account{}, err
	}

	updated, err := s.backend.MarkPaid(ctx, id, s.now())
	if err != nil {
		s.handleStaleLocked(id, err)
		s.log.Errorf("Mark-paid failed for account %s (owner %s): %v", id, s.session.OwnerID, err)
		return models.Account{}, err
	}
	s.accounts[idx] = updated
	s.persistLocked()
	s.log.Infof("Account %s marked paid", id)
	return updated, nil
}

// Degraded reports whether the session is serving cached data.
func (s *Syncer) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Active reports whether a session has been started.
func (s *Syncer) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.OwnerID != ""
}

// Session returns the current session.
func (s *Syncer) Session() models.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Logout clears the in-memory state and the cache.
func (s *Syncer) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = models.Session{}
	s.accounts = nil
	s.filter = models.Filter{}
	s.degraded = false
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("failed to clear cache on logout: %w", err)
	}
	return nil
}

// fetchLocked replaces the in-memory set with the backend's, runs the
// sweep if due, and writes the result back to the cache.
func (s *Syncer) fetchLocked(ctx context.Context) error {
	remote, err := s.backend.ListAccounts(ctx, s.session.OwnerID)
	if err != nil {
		s.degraded = true
		s.log.Errorf("Authoritative fetch failed for owner %s: %v", s.session.OwnerID, err)
		return err
	}
	today := models.DateOf(s.now())
	if s.engine.Due(today) {
		remote, _ = s.engine.Sweep(remote, today, true)
	} else {
		remote, _ = s.engine.Sweep(remote, today, false)
	}
	s.accounts = remote
	s.degraded = false
	s.persistLocked()
	return nil
}

// ensureOnline rejects mutations while offline, after one opportunistic
// probe in case connectivity quietly returned.
func (s *Syncer) ensureOnline(ctx context.Context) error {
	if !s.conn.Offline() {
		return nil
	}
	if s.conn.CheckNow(ctx) {
		return nil
	}
	return gateway.ErrOffline
}

// handleStaleLocked drops a record the backend no longer knows about.
func (s *Syncer) handleStaleLocked(id string, err error) {
	if !isNotFound(err) {
		return
	}
	s.removeLocked(id)
	s.persistLocked()
	s.log.Warnf("Removed stale account %s from local set", id)
}

func isNotFound(err error) bool {
	return errors.Is(err, gateway.ErrNotFound)
}

func (s *Syncer) indexOfLocked(id string) int {
	for i, a := range s.accounts {
		if a.ID == id && a.OwnerID == s.session.OwnerID {
			return i
		}
	}
	return -1
}

func (s *Syncer) removeLocked(id string) {
	for i, a := range s.accounts {
		if a.ID == id {
			s.accounts = append(s.accounts[:i], s.accounts[i+1:]...)
			return
		}
	}
}

func (s *Syncer) persistLocked() {
	if err := s.store.Save(cache.KeyAccounts, s.accounts, 0); err != nil {
		s.log.Warnf("Failed to write accounts back to cache: %v", err)
	}
}

func (s *Syncer) snapshotLocked() []models.Account {
	out := make([]models.Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}
