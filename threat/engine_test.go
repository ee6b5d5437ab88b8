package threat

import (
	"bastion/core"
	"bastion/storage"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type upsert struct {
	ip         string
	threatType string
	risk       int
}

type fakeStore struct {
	mu        sync.Mutex
	upserts   []upsert
	events    []string
	upsertErr error
}

func (f *fakeStore) UpsertThreatIndicator(_ context.Context, ip, threatType string, risk int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, upsert{ip, threatType, risk})
	return nil
}

func (f *fakeStore) FetchHighRiskIPs(context.Context, int) ([]string, error) { return nil, nil }

func (f *fakeStore) RecordSystemEvent(_ context.Context, eventType, payload string, _ core.Severity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType+": "+payload)
	return nil
}

func (f *fakeStore) snapshot() ([]upsert, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upsert(nil), f.upserts...), append([]string(nil), f.events...)
}

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fixedRisk(score int) Option {
	return WithRiskScorer(func(string) int { return score })
}

func TestUpdateOnce_SkipsCommentsAndBlankLines(t *testing.T) {
	srv := feedServer(t, "1.1.1.1\n# comment\n2.2.2.2\n\n")
	store := &fakeStore{}
	e := NewEngine(store, Config{URLs: []string{srv.URL}}, zap.NewNop().Sugar(), fixedRisk(80))

	n, err := e.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	upserts, events := store.snapshot()
	assert.Equal(t, []upsert{{"1.1.1.1", "feed", 80}, {"2.2.2.2", "feed", 80}}, upserts)
	assert.Equal(t, []string{"THREAT_UPDATE: Ingested 2 indicators"}, events)
}

func TestUpdateOnce_TakesFirstFieldAndValidates(t *testing.T) {
	srv := feedServer(t, "  203.0.113.9\t7\n198.51.100.0/24 ; SBL\nnot-an-ip\n::ffff:192.0.2.1\n")
	store := &fakeStore{}
	e := NewEngine(store, Config{URLs: []string{srv.URL}}, zap.NewNop().Sugar(), fixedRisk(70))

	n, err := e.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	upserts, _ := store.snapshot()
	var ips []string
	for _, u := range upserts {
		ips = append(ips, u.ip)
	}
	assert.Equal(t, []string{"203.0.113.9", "198.51.100.0/24", "192.0.2.1"}, ips)
}

func TestUpdateOnce_FailingFeedIsSkipped(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer bad.Close()
	good := feedServer(t, "9.9.9.9\n")

	store := &fakeStore{}
	e := NewEngine(store, Config{URLs: []string{bad.URL, "http://127.0.0.1:1/unreachable", good.URL}}, zap.NewNop().Sugar())

	n, err := e.UpdateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	upserts, events := store.snapshot()
	require.Len(t, upserts, 1)
	assert.GreaterOrEqual(t, upserts[0].risk, 60)
	assert.LessOrEqual(t, upserts[0].risk, 95)

	require.Len(t, events, 3)
	assert.True(t, strings.HasPrefix(events[0], core.EventThreatFeedError))
	assert.True(t, strings.HasPrefix(events[1], core.EventThreatFeedError))
	assert.Equal(t, "THREAT_UPDATE: Ingested 1 indicators", events[2])
}

func TestUpdateOnce_StoreFailureAborts(t *testing.T) {
	srv := feedServer(t, "1.1.1.1\n2.2.2.2\n")
	store := &fakeStore{upsertErr: fmt.Errorf("write: %w", core.ErrStoreUnavailable)}
	e := NewEngine(store, Config{URLs: []string{srv.URL}}, zap.NewNop().Sugar())

	_, err := e.UpdateOnce(context.Background())
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestUpdateOnce_BreakerSkipsDeadFeed(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	store := &fakeStore{}
	e := NewEngine(store, Config{URLs: []string{srv.URL}}, zap.NewNop().Sugar(),
		WithBreakerConfig(core.BreakerConfig{MaxFailures: 2, Cooldown: time.Hour}))

	for i := 0; i < 4; i++ {
		_, err := e.UpdateOnce(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load(), "open circuit stops further requests")
}

func TestUpdateOnce_IncrementsAttackCountInStore(t *testing.T) {
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "threat.db"), zap.NewNop().Sugar())
	require.NoError(t, err)
	defer s.Close()

	srv := feedServer(t, "1.2.3.4\n")
	e := NewEngine(s, Config{URLs: []string{srv.URL}}, zap.NewNop().Sugar(), fixedRisk(80))

	for i := 0; i < 2; i++ {
		_, err := e.UpdateOnce(context.Background())
		require.NoError(t, err)
	}

	ti, err := s.GetThreatIndicator(context.Background(), "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, int64(2), ti.AttackCount)
	assert.Equal(t, 80, ti.RiskScore)
	assert.Equal(t, "feed", ti.ThreatType)
}

func TestNewEngine_ClampsInterval(t *testing.T) {
	e := NewEngine(&fakeStore{}, Config{UpdateInterval: time.Second}, zap.NewNop().Sugar())
	assert.Equal(t, MinUpdateInterval, e.Interval())
}

func TestRun_UpdatesImmediatelyAndStops(t *testing.T) {
	srv := feedServer(t, "4.4.4.4\n")
	store := &fakeStore{}
	updated := make(chan int, 1)
	e := NewEngine(store, Config{URLs: []string{srv.URL}}, zap.NewNop().Sugar(),
		WithAfterUpdate(func(_ context.Context, n int) { updated <- n }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case n := <-updated:
		assert.Equal(t, 1, n)
	case <-time.After(5 * time.Second):
		t.Fatal("first update did not run")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, events := store.snapshot()
	assert.Equal(t, "THREAT_LOOP: Threat intel loop started", events[0])
}

func TestRandomRiskRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		r := RandomRisk("x")
		require.GreaterOrEqual(t, r, 60)
		require.LessOrEqual(t, r, 95)
	}
}
