package lifecycle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mledur/billkeeper/internal/cache"
	"github.com/mledur/billkeeper/internal/gateway"
	"github.com/mledur/billkeeper/internal/metrics"
	"github.com/mledur/billkeeper/internal/models"
)

// StatusFor derives the lifecycle state of an account from its payment
// date and due date. Pure; the same inputs always give the same status.
func StatusFor(a models.Account, today models.Date) models.Status {
	if a.PaymentDate != nil {
		return models.StatusPaid
	}
	if a.DueDate.Before(today) {
		return models.StatusOverdue
	}
	return models.StatusOpen
}

// Updater delivers a partial record update to the backend. The gateway
// implements it.
type Updater interface {
	UpdateAccount(ctx context.Context, id string, patch models.AccountPatch) (models.Account, error)
}

type statusChange struct {
	id     string
	status models.Status
}

// Engine runs the daily due-date sweep and pushes resulting status
// changes to the backend best-effort, off the caller's path.
type Engine struct {
	store   cache.Store
	updater Updater
	log     *logrus.Logger

	queue      chan statusChange
	done       chan struct{}
	drainTries int
	drainWait  time.Duration
}

// NewEngine creates a sweep engine. Start must be called before Sweep
// enqueues remote updates.
func NewEngine(store cache.Store, updater Updater, log *logrus.Logger) *Engine {
	return &Engine{
		store:      store,
		updater:    updater,
		log:        log,
		queue:      make(chan statusChange, 64),
		done:       make(chan struct{}),
		drainTries: 2,
		drainWait:  2 * time.Second,
	}
}

// Start launches the background drainer.
func (e *Engine) Start(ctx context.Context) {
	go e.drain(ctx)
}

// Close stops accepting changes and waits for the drainer to finish the
// queued ones.
func (e *Engine) Close() {
	close(e.queue)
	<-e.done
}

// Due reports whether the sweep has not yet run on the given day. The
// last run is tracked in the cache so restarts do not repeat it.
func (e *Engine) Due(today models.Date) bool {
	var lastRun string
	ok, err := e.store.Read(cache.KeySweepLastRun, &lastRun)
	if err != nil {
		e.log.Warnf("Failed to read sweep marker: %v", err)
		return true
	}
	return !ok || lastRun != today.String()
}

// Sweep reclassifies every open account whose due date has passed as
// overdue, leaving paid accounts untouched. It returns the updated set
// and the newly overdue accounts, and is idempotent: a second run on the
// same day finds nothing left to flip.
//
// When queueRemote is set each change is queued for best-effort delivery
// to the backend; the sweep itself never blocks on network I/O.
func (e *Engine) Sweep(accounts []models.Account, today models.Date, queueRemote bool) ([]models.Account, []models.Account) {
	var flipped []models.Account
	out := make([]models.Account, len(accounts))
	copy(out, accounts)

	for i := range out {
		if out[i].Status != models.StatusOpen {
			continue
		}
		if !out[i].DueDate.Before(today) {
			continue
		}
		out[i].Status = models.StatusOverdue
		flipped = append(flipped, out[i])
		metrics.SweepOverdue.Inc()
		if queueRemote {
			e.enqueue(statusChange{id: out[i].ID, status: models.StatusOverdue})
		}
	}

	if err := e.store.Save(cache.KeySweepLastRun, today.String(), 0); err != nil {
		e.log.Warnf("Failed to record sweep run: %v", err)
	}
	if len(flipped) > 0 {
		e.log.Infof("Sweep marked %d accounts overdue for %s", len(flipped), today)
	}
	return out, flipped
}

func (e *Engine) enqueue(c statusChange) {
	select {
	case e.queue <- c:
	default:
		e.log.Warnf("Status update queue full, dropping change for account %s", c.id)
		metrics.QueueDropped.Inc()
	}
}

func (e *Engine) drain(ctx context.Context) {
	defer close(e.done)
	for change := range e.queue {
		e.deliver(ctx, change)
	}
}

// deliver pushes one status change with a short retry budget of its own.
// Exhaustion drops the change with a warning; the next sync or sweep
// re-derives the status anyway.
func (e *Engine) deliver(ctx context.Context, c statusChange) {
	status := c.status
	patch := models.AccountPatch{Status: &status}
	var lastErr error
	for attempt := 0; attempt <= e.drainTries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.drainWait):
			}
		}
		_, err := e.updater.UpdateAccount(ctx, c.id, patch)
		if err == nil {
			e.log.Debugf("Delivered status %s for account %s", c.status, c.id)
			return
		}
		if !gateway.IsTransient(err) {
			e.log.Warnf("Dropping status update for account %s: %v", c.id, err)
			metrics.QueueDropped.Inc()
			return
		}
		lastErr = err
	}
	e.log.Warnf("Dropping status update for account %s after %d attempts: %v",
		c.id, e.drainTries+1, lastErr)
	metrics.QueueDropped.Inc()
}
