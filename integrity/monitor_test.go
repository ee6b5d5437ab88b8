package integrity

import (
	"bastion/core"
	"bastion/storage"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "integrity.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func driftEvents(t *testing.T, s *storage.SQLite) []core.SystemEvent {
	t.Helper()
	events, err := s.RecentSystemEvents(context.Background(), 1000)
	require.NoError(t, err)
	var drift []core.SystemEvent
	for _, e := range events {
		if e.EventType == core.EventFileModified {
			drift = append(drift, e)
		}
	}
	return drift
}

func TestNewMonitorClampsInterval(t *testing.T) {
	m := NewMonitor(newStore(t), Config{ScanInterval: time.Second}, zap.NewNop().Sugar())
	assert.Equal(t, MinScanInterval, m.Interval())

	m = NewMonitor(newStore(t), Config{ScanInterval: time.Minute}, zap.NewNop().Sugar())
	assert.Equal(t, time.Minute, m.Interval())
}

func TestBaselineThenScanWithoutChanges(t *testing.T) {
	s := newStore(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.conf"), "alpha")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	writeFile(t, filepath.Join(dir, "sub", "b.conf"), "beta")

	m := NewMonitor(s, Config{Paths: []string{dir}}, zap.NewNop().Sugar())
	created, err := m.Baseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	result, err := m.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ScanResult{Scanned: 2}, result)
	assert.Empty(t, driftEvents(t, s))
}

func TestDriftAlertsOncePerDistinctContent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "passwd")
	writeFile(t, file, "h0")

	m := NewMonitor(s, Config{Paths: []string{file}}, zap.NewNop().Sugar())
	_, err := m.Baseline(ctx)
	require.NoError(t, err)

	writeFile(t, file, "h1")
	result, err := m.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Drifted)

	// rescanning unchanged H1 stays quiet
	result, err = m.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Drifted)

	writeFile(t, file, "h2")
	result, err = m.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Drifted)

	writeFile(t, file, "h0")
	result, err = m.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Drifted, "returning to the baseline does not alert")

	drift := driftEvents(t, s)
	require.Len(t, drift, 2)
	for _, e := range drift {
		assert.Equal(t, core.SeverityCritical, e.Severity)
		assert.Equal(t, file+" hash drift detected", e.Payload)
	}
}

func TestRevertAfterSingleChange(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "sudoers")
	writeFile(t, file, "A")

	m := NewMonitor(s, Config{Paths: []string{file}}, zap.NewNop().Sugar())
	_, err := m.Baseline(ctx)
	require.NoError(t, err)

	writeFile(t, file, "B")
	_, err = m.ScanOnce(ctx)
	require.NoError(t, err)
	writeFile(t, file, "A")
	_, err = m.ScanOnce(ctx)
	require.NoError(t, err)

	assert.Len(t, driftEvents(t, s), 1)

	fb, err := s.FetchFileBaseline(ctx, file)
	require.NoError(t, err)
	assert.NotEqual(t, fb.Baseline, fb.Current, "current keeps the last reported digest")
}

func TestBaselineDoesNotResetExistingRecords(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "shadow")
	writeFile(t, file, "original")

	m := NewMonitor(s, Config{Paths: []string{file}}, zap.NewNop().Sugar())
	_, err := m.Baseline(ctx)
	require.NoError(t, err)
	before, err := s.FetchFileBaseline(ctx, file)
	require.NoError(t, err)

	writeFile(t, file, "tampered")
	created, err := m.Baseline(ctx)
	require.NoError(t, err)
	assert.Zero(t, created)

	after, err := s.FetchFileBaseline(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, before.Baseline, after.Baseline)

	result, err := m.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Drifted)
}

func TestNewFileIsBaselinedNotDrift(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one"), "1")

	m := NewMonitor(s, Config{Paths: []string{dir}}, zap.NewNop().Sugar())
	_, err := m.Baseline(ctx)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dir, "two"), "2")
	result, err := m.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 0, result.Drifted)
	assert.Empty(t, driftEvents(t, s))
}

func TestSkipsSymlinksAndMissingPaths(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "target")
	writeFile(t, target, "outside")
	require.NoError(t, os.Symlink(target, filepath.Join(dir, "link")))
	writeFile(t, filepath.Join(dir, "real"), "inside")

	m := NewMonitor(s, Config{Paths: []string{dir, filepath.Join(dir, "missing"), filepath.Join(dir, "link")}}, zap.NewNop().Sugar())
	created, err := m.Baseline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	_, err = s.FetchFileBaseline(ctx, filepath.Join(dir, "link"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestWatchStopsOnStopAndContext(t *testing.T) {
	s := newStore(t)
	m := NewMonitor(s, Config{Paths: []string{t.TempDir()}}, zap.NewNop().Sugar())
	m.interval = 20 * time.Millisecond

	done := make(chan error, 1)
	go func() { done <- m.Watch(context.Background()) }()

	time.Sleep(60 * time.Millisecond)
	m.Stop()
	m.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after Stop")
	}

	m2 := NewMonitor(s, Config{Paths: []string{t.TempDir()}}, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- m2.Watch(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchDetectsDriftOnInterval(t *testing.T) {
	s := newStore(t)
	file := filepath.Join(t.TempDir(), "hosts")
	writeFile(t, file, "127.0.0.1 localhost")

	m := NewMonitor(s, Config{Paths: []string{file}}, zap.NewNop().Sugar())
	m.interval = 20 * time.Millisecond
	_, err := m.Baseline(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	writeFile(t, file, "6.6.6.6 localhost")
	assert.Eventually(t, func() bool { return len(driftEvents(t, s)) == 1 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatchScansImmediately(t *testing.T) {
	s := newStore(t)
	file := filepath.Join(t.TempDir(), "sudoers")
	writeFile(t, file, "root ALL=(ALL) ALL")

	m := NewMonitor(s, Config{Paths: []string{file}, ScanInterval: time.Hour}, zap.NewNop().Sugar())
	_, err := m.Baseline(context.Background())
	require.NoError(t, err)
	writeFile(t, file, "ALL ALL=(ALL) NOPASSWD: ALL")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	assert.Eventually(t, func() bool { return len(driftEvents(t, s)) == 1 }, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSingleWatcherPerStore(t *testing.T) {
	s := newStore(t)
	first := NewMonitor(s, Config{}, zap.NewNop().Sugar())
	second := NewMonitor(s, Config{}, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- first.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_, running := activeWatchers.Load(s)
		return running
	}, 5*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, second.Watch(context.Background()), ErrWatchInProgress)

	cancel()
	require.NoError(t, <-done)

	// the slot is released once the first watcher exits
	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	assert.NoError(t, second.Watch(ctx2))
}

func TestWatchFailsWhenStoreUnavailable(t *testing.T) {
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "gone.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	m := NewMonitor(s, Config{}, zap.NewNop().Sugar())
	err = m.Watch(context.Background())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestRealtimeTriggerSchedulesEarlyScan(t *testing.T) {
	s := newStore(t)
	dir := t.TempDir()
	file := filepath.Join(dir, "watched")
	writeFile(t, file, "before")

	m := NewMonitor(s, Config{Paths: []string{dir}, Realtime: true, ScanInterval: time.Hour}, zap.NewNop().Sugar())
	m.minGap = 10 * time.Millisecond
	_, err := m.Baseline(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	require.Eventually(t, func() bool {
		_, running := activeWatchers.Load(s)
		return running
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	writeFile(t, file, "after")
	assert.Eventually(t, func() bool { return len(driftEvents(t, s)) == 1 }, 5*time.Second, 20*time.Millisecond)
}
