package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mledur/billkeeper/internal/config"
	"github.com/mledur/billkeeper/internal/metrics"
)

// State of the connection to the remote backend.
type State string

const (
	StateUnknown State = "unknown"
	StateOnline  State = "online"
	StateOffline State = "offline"
)

// Prober performs a lightweight reachability check. The gateway's health
// probe implements it.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Monitor owns the process-wide offline flag. It is the only writer of
// the connection state; every other component reads it or subscribes.
//
// Transitions: Unknown/Online go Offline after a threshold of
// consecutive reported failures or one failed probe; Offline goes back
// to Online on any successful probe. While offline a reconnection
// scheduler probes on a growing interval, pausing after a capped number
// of attempts until Kick is called (network regained, or an
// opportunistic pre-write check).
type Monitor struct {
	prober Prober
	log    *logrus.Logger

	threshold    int
	probeTimeout time.Duration
	base         time.Duration
	max          time.Duration
	factor       float64
	maxTries     int

	mu       sync.Mutex
	state    State
	failures int
	subs     []chan State

	kick        chan struct{}
	wentOffline chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewMonitor builds a monitor in the Unknown state.
func NewMonitor(cfg *config.Config, prober Prober, log *logrus.Logger) *Monitor {
	return &Monitor{
		prober:       prober,
		log:          log,
		threshold:    cfg.OfflineThreshold,
		probeTimeout: cfg.ProbeTimeout,
		base:         cfg.ReconnectBase,
		max:          cfg.ReconnectMax,
		factor:       cfg.ReconnectFactor,
		maxTries:     cfg.ReconnectTries,
		state:        StateUnknown,
		kick:         make(chan struct{}, 1),
		wentOffline:  make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start launches the reconnection scheduler.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Close cancels the scheduler as a whole, e.g. on logout, so no timers
// outlive the session.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

// State returns the current connection state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Offline reports whether the client is in offline mode.
func (m *Monitor) Offline() bool {
	return m.State() == StateOffline
}

// ReportSuccess records a successful backend roundtrip and restores
// Online, resetting the consecutive-failure counter.
func (m *Monitor) ReportSuccess() {
	m.mu.Lock()
	m.failures = 0
	m.setStateLocked(StateOnline)
	m.mu.Unlock()
}

// ReportFailure records one exhausted network-class request. After the
// configured number of consecutive failures the monitor trips Offline.
func (m *Monitor) ReportFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
	if m.failures >= m.threshold {
		m.setStateLocked(StateOffline)
	}
}

// Kick triggers an immediate reconnection probe. Called when the host
// reports network connectivity regained and opportunistically before
// writes while offline.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// CheckNow runs a health probe synchronously and applies its result to
// the state machine. A failed probe trips Offline regardless of the
// failure threshold.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	if m.prober.Probe(pctx) {
		m.ReportSuccess()
		return true
	}
	m.mu.Lock()
	m.failures = m.threshold
	m.setStateLocked(StateOffline)
	m.mu.Unlock()
	return false
}

// Subscribe returns a channel carrying state transitions, latest-wins.
// The UI consumes it to render the offline flag.
func (m *Monitor) Subscribe() <-chan State {
	ch := make(chan State, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) setStateLocked(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	m.log.Infof("Connectivity %s -> %s", prev, s)
	switch s {
	case StateOffline:
		metrics.ConnectivityTransitions.WithLabelValues("offline").Inc()
		select {
		case m.wentOffline <- struct{}{}:
		default:
		}
	case StateOnline:
		metrics.ConnectivityTransitions.WithLabelValues("online").Inc()
	}
	for _, sub := range m.subs {
		select {
		case <-sub:
		default:
		}
		select {
		case sub <- s:
		default:
		}
	}
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wentOffline:
			m.reconnectLoop(ctx)
		case <-m.kick:
			if m.Offline() {
				m.reconnectLoop(ctx)
			} else {
				m.CheckNow(ctx)
			}
		}
	}
}

// reconnectLoop probes on a growing interval while offline. Kick resets
// the schedule and probes immediately; after maxTries unanswered probes
// the loop pauses until the next Kick.
func (m *Monitor) reconnectLoop(ctx context.Context) {
	interval := m.base
	attempts := 0
	for m.Offline() {
		if attempts >= m.maxTries {
			m.log.Infof("Reconnection paused after %d attempts, waiting for external trigger", attempts)
			select {
			case <-ctx.Done():
				return
			case <-m.kick:
				interval = m.base
				attempts = 0
			}
		} else {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-m.kick:
				timer.Stop()
				interval = m.base
				attempts = 0
			case <-timer.C:
				attempts++
				interval = time.Duration(float64(interval) * m.factor)
				if interval > m.max {
					interval = m.max
				}
			}
		}
		if m.CheckNow(ctx) {
			return
		}
	}
}
