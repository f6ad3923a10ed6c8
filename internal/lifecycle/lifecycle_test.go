package lifecycle

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mledur/billkeeper/internal/cache"
	"github.com/mledur/billkeeper/internal/gateway"
	"github.com/mledur/billkeeper/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type recordingUpdater struct {
	mu      sync.Mutex
	updates []models.AccountPatch
	ids     []string
	err     error
}

func (u *recordingUpdater) UpdateAccount(ctx context.Context, id string, patch models.AccountPatch) (models.Account, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return models.Account{}, u.err
	}
	u.ids = append(u.ids, id)
	u.updates = append(u.updates, patch)
	return models.Account{ID: id}, nil
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.ids)
}

var (
	today     = models.NewDate(2026, time.August, 30)
	yesterday = models.NewDate(2026, time.August, 29)
	tomorrow  = models.NewDate(2026, time.August, 31)
)

func account(id string, due models.Date, status models.Status) models.Account {
	acc := models.Account{
		ID:       id,
		OwnerID:  "owner-1",
		Name:     "Bill " + id,
		Amount:   decimal.NewFromInt(100),
		DueDate:  due,
		Status:   status,
		Category: models.CategoryFixed,
	}
	if status == models.StatusPaid {
		paid := time.Date(2026, time.August, 20, 12, 0, 0, 0, time.UTC)
		acc.PaymentDate = &paid
	}
	return acc
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, models.StatusOpen, StatusFor(account("a", tomorrow, models.StatusOpen), today))
	assert.Equal(t, models.StatusOpen, StatusFor(account("a", today, models.StatusOpen), today),
		"due today is not yet overdue")
	assert.Equal(t, models.StatusOverdue, StatusFor(account("a", yesterday, models.StatusOpen), today))
	assert.Equal(t, models.StatusPaid, StatusFor(account("a", yesterday, models.StatusPaid), today),
		"a payment date always means paid")
}

func newTestEngine(t *testing.T) (*Engine, *recordingUpdater, *cache.MemoryStore) {
	t.Helper()
	store := cache.NewMemoryStore()
	updater := &recordingUpdater{}
	e := NewEngine(store, updater, testLogger())
	e.drainWait = time.Millisecond
	e.Start(context.Background())
	t.Cleanup(e.Close)
	return e, updater, store
}

func TestSweepFlipsOnlyPastDueOpenAccounts(t *testing.T) {
	e, _, _ := newTestEngine(t)

	in := []models.Account{
		account("due-later", tomorrow, models.StatusOpen),
		account("past-due", yesterday, models.StatusOpen),
		account("paid", yesterday, models.StatusPaid),
		account("due-today", today, models.StatusOpen),
	}
	out, flipped := e.Sweep(in, today, false)

	require.Len(t, flipped, 1)
	assert.Equal(t, "past-due", flipped[0].ID)
	assert.Equal(t, models.StatusOpen, out[0].Status)
	assert.Equal(t, models.StatusOverdue, out[1].Status)
	assert.Equal(t, models.StatusPaid, out[2].Status)
	assert.Equal(t, models.StatusOpen, out[3].Status)

	// The input slice is not mutated.
	assert.Equal(t, models.StatusOpen, in[1].Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)

	in := []models.Account{
		account("a", yesterday, models.StatusOpen),
		account("b", tomorrow, models.StatusOpen),
	}
	once, _ := e.Sweep(in, today, false)
	twice, flipped := e.Sweep(once, today, false)

	assert.Equal(t, once, twice)
	assert.Empty(t, flipped, "a second run on the same day finds nothing to flip")
}

func TestSweepOverdueInvariant(t *testing.T) {
	e, _, _ := newTestEngine(t)

	in := []models.Account{
		account("a", yesterday, models.StatusOpen),
		account("b", yesterday, models.StatusPaid),
		account("c", tomorrow, models.StatusOpen),
	}
	out, _ := e.Sweep(in, today, false)

	for _, acc := range out {
		if acc.Status == models.StatusOverdue {
			assert.True(t, acc.DueDate.Before(today))
			assert.Nil(t, acc.PaymentDate)
		}
		if acc.Status == models.StatusPaid {
			assert.NotNil(t, acc.PaymentDate)
		}
	}
}

func TestDueTracksCalendarDay(t *testing.T) {
	e, _, _ := newTestEngine(t)

	require.True(t, e.Due(today))
	e.Sweep(nil, today, false)
	assert.False(t, e.Due(today), "sweep already ran today")
	assert.True(t, e.Due(tomorrow), "a new day makes the sweep due again")
}

func TestSweepQueuesRemoteUpdates(t *testing.T) {
	e, updater, _ := newTestEngine(t)

	in := []models.Account{account("past-due", yesterday, models.StatusOpen)}
	e.Sweep(in, today, true)

	require.Eventually(t, func() bool { return updater.count() == 1 },
		time.Second, 5*time.Millisecond)
	updater.mu.Lock()
	defer updater.mu.Unlock()
	assert.Equal(t, "past-due", updater.ids[0])
	require.NotNil(t, updater.updates[0].Status)
	assert.Equal(t, models.StatusOverdue, *updater.updates[0].Status)
}

func TestDrainerDropsAfterRetryBudget(t *testing.T) {
	store := cache.NewMemoryStore()
	updater := &recordingUpdater{err: gateway.ErrServer}
	e := NewEngine(store, updater, testLogger())
	e.drainWait = time.Millisecond
	e.Start(context.Background())

	e.Sweep([]models.Account{account("x", yesterday, models.StatusOpen)}, today, true)
	e.Close() // waits for the drainer, which must give up rather than hang

	assert.Equal(t, 0, updater.count())
}

func TestDrainerDropsNonTransientImmediately(t *testing.T) {
	store := cache.NewMemoryStore()
	updater := &recordingUpdater{err: gateway.ErrNotFound}
	e := NewEngine(store, updater, testLogger())
	e.drainWait = time.Millisecond
	e.Start(context.Background())

	e.Sweep([]models.Account{account("gone", yesterday, models.StatusOpen)}, today, true)
	e.Close()

	assert.Equal(t, 0, updater.count())
}
