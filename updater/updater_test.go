package updater

import (
	"bastion/core"
	"bastion/util/goroutine"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu     sync.Mutex
	events []string
	err    error
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

func manifestServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClampsInterval(t *testing.T) {
	u := New(&fakeStore{}, Config{Interval: time.Minute}, zap.NewNop().Sugar())
	assert.Equal(t, MinCheckInterval, u.Interval())

	u = New(&fakeStore{}, Config{Interval: 2 * time.Hour}, zap.NewNop().Sugar())
	assert.Equal(t, 2*time.Hour, u.Interval())
}

func TestCheckOnceWithoutManifest(t *testing.T) {
	store := &fakeStore{}
	u := New(store, Config{CurrentVersion: "1.0.0"}, zap.NewNop().Sugar())

	res, err := u.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, []string{"INFO UPDATE_CHECK: Auto-update triggered"}, store.eventList())
}

func TestCheckOnceReportsNewVersion(t *testing.T) {
	srv := manifestServer(t, http.StatusOK, `{"version": "1.2.0", "url": "https://example.com/bastion"}`)
	store := &fakeStore{}
	u := New(store, Config{CurrentVersion: "1.0.0", ManifestURL: srv.URL}, zap.NewNop().Sugar())

	res, err := u.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Available)
	require.NotNil(t, res.Manifest)
	assert.Equal(t, "1.2.0", res.Manifest.Version)
	assert.Contains(t, store.eventList(), "WARNING UPDATE_AVAILABLE: Version 1.2.0 available (running 1.0.0)")
}

func TestCheckOnceSameVersion(t *testing.T) {
	srv := manifestServer(t, http.StatusOK, `{"version": "1.0.0"}`)
	store := &fakeStore{}
	u := New(store, Config{CurrentVersion: "1.0.0", ManifestURL: srv.URL}, zap.NewNop().Sugar())

	res, err := u.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Len(t, store.eventList(), 1)
}

func TestCheckOnceRecordsFetchFailure(t *testing.T) {
	srv := manifestServer(t, http.StatusNotFound, "missing")
	store := &fakeStore{}
	u := New(store, Config{CurrentVersion: "1.0.0", ManifestURL: srv.URL}, zap.NewNop().Sugar())

	_, err := u.CheckOnce(context.Background())
	require.NoError(t, err)
	events := store.eventList()
	require.Len(t, events, 2)
	assert.True(t, strings.HasPrefix(events[1], "WARNING UPDATE_ERROR: Failed to fetch manifest: unexpected status 404"))
}

func TestRunRecordsInitAndChecks(t *testing.T) {
	goroutine.AssertNoLeaks(t)
	store := &fakeStore{}
	u := New(store, Config{CurrentVersion: "1.0.0"}, zap.NewNop().Sugar())
	u.interval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool { return len(store.eventList()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	events := store.eventList()
	assert.Equal(t, "INFO AUTO_UPDATE: Auto-update loop initialized", events[0])
	assert.Equal(t, "INFO UPDATE_CHECK: Auto-update triggered", events[1])
}

func TestRunFailsWhenStoreUnavailable(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("failed to record: %w", core.ErrStoreUnavailable)}
	u := New(store, Config{}, zap.NewNop().Sugar())

	err := u.Run(context.Background())
	assert.True(t, errors.Is(err, core.ErrStoreUnavailable))
}
