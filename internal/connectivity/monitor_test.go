package connectivity

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mledur/billkeeper/internal/config"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testConfig() *config.Config {
	return &config.Config{
		OfflineThreshold: 3,
		ProbeTimeout:     100 * time.Millisecond,
		ReconnectBase:    10 * time.Millisecond,
		ReconnectMax:     40 * time.Millisecond,
		ReconnectFactor:  1.5,
		ReconnectTries:   3,
	}
}

type fakeProber struct {
	reachable atomic.Bool
	probes    atomic.Int64
}

func (p *fakeProber) Probe(ctx context.Context) bool {
	p.probes.Add(1)
	return p.reachable.Load()
}

func TestStartsUnknown(t *testing.T) {
	m := NewMonitor(testConfig(), &fakeProber{}, testLogger())
	assert.Equal(t, StateUnknown, m.State())
	assert.False(t, m.Offline())
}

func TestConsecutiveFailuresTripOffline(t *testing.T) {
	m := NewMonitor(testConfig(), &fakeProber{}, testLogger())

	m.ReportFailure()
	m.ReportFailure()
	assert.False(t, m.Offline(), "below threshold must not trip")

	m.ReportFailure()
	assert.True(t, m.Offline())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	m := NewMonitor(testConfig(), &fakeProber{}, testLogger())

	m.ReportFailure()
	m.ReportFailure()
	m.ReportSuccess()
	assert.Equal(t, StateOnline, m.State())

	// The counter restarted, so two more failures stay online.
	m.ReportFailure()
	m.ReportFailure()
	assert.False(t, m.Offline())
}

func TestCheckNowAppliesProbeResult(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(testConfig(), p, testLogger())

	require.False(t, m.CheckNow(context.Background()))
	assert.True(t, m.Offline(), "a failed probe trips offline immediately")

	p.reachable.Store(true)
	require.True(t, m.CheckNow(context.Background()))
	assert.Equal(t, StateOnline, m.State())
}

func TestSchedulerRecoversWhenBackendReturns(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(testConfig(), p, testLogger())
	m.Start(context.Background())
	defer m.Close()

	m.CheckNow(context.Background())
	require.True(t, m.Offline())

	p.reachable.Store(true)
	assert.Eventually(t, func() bool { return m.State() == StateOnline },
		time.Second, 5*time.Millisecond, "scheduler should probe its way back online")
}

func TestSchedulerPausesUntilKick(t *testing.T) {
	p := &fakeProber{}
	m := NewMonitor(testConfig(), p, testLogger())
	m.Start(context.Background())
	defer m.Close()

	m.CheckNow(context.Background())
	require.True(t, m.Offline())

	// Let the scheduler exhaust its capped attempts against a dead backend.
	assert.Eventually(t, func() bool { return p.probes.Load() >= int64(testConfig().ReconnectTries+1) },
		time.Second, 5*time.Millisecond)
	settled := p.probes.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, settled, p.probes.Load(), "paused scheduler must stop probing")

	p.reachable.Store(true)
	m.Kick()
	assert.Eventually(t, func() bool { return m.State() == StateOnline },
		time.Second, 5*time.Millisecond, "kick should resume reconnection")
}

func TestSubscribeSeesTransitions(t *testing.T) {
	m := NewMonitor(testConfig(), &fakeProber{}, testLogger())
	ch := m.Subscribe()

	m.ReportFailure()
	m.ReportFailure()
	m.ReportFailure()
	select {
	case s := <-ch:
		assert.Equal(t, StateOffline, s)
	case <-time.After(time.Second):
		t.Fatal("expected an offline notification")
	}

	m.ReportSuccess()
	select {
	case s := <-ch:
		assert.Equal(t, StateOnline, s)
	case <-time.After(time.Second):
		t.Fatal("expected an online notification")
	}
}
