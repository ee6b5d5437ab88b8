package integrity

import (
	"bastion/core"
	"bastion/metrics"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MinScanInterval is the shortest allowed gap between two scans
const MinScanInterval = 10 * time.Second

// ErrWatchInProgress is returned when a second watcher is started against the same store
var ErrWatchInProgress = errors.New("integrity watch already running for this store")

// activeWatchers holds one entry per store that currently has a Watch loop
var activeWatchers sync.Map

// Store is the subset of the event store the monitor needs
type Store interface {
	core.FileBaselineStore
	core.SystemEventRecorder
}

// Config configures a Monitor
type Config struct {
	Paths        []string
	ScanInterval time.Duration
	Realtime     bool
}

// ScanResult summarises one pass over the watched paths
type ScanResult struct {
	Scanned int
	Created int
	Drifted int
}

// Monitor baselines the configured paths and raises a CRITICAL event when a
// file's digest drifts from both its baseline and its last reported digest.
// It keeps no baseline state in memory; every scan re-reads the store.
type Monitor struct {
	store    Store
	logger   *zap.SugaredLogger
	paths    []string
	interval time.Duration
	minGap   time.Duration
	realtime bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a Monitor. Intervals under MinScanInterval are raised to it.
func NewMonitor(store Store, cfg Config, logger *zap.SugaredLogger) *Monitor {
	interval := cfg.ScanInterval
	if interval < MinScanInterval {
		interval = MinScanInterval
	}
	return &Monitor{
		store:    store,
		logger:   logger,
		paths:    append([]string(nil), cfg.Paths...),
		interval: interval,
		minGap:   MinScanInterval,
		realtime: cfg.Realtime,
		stopCh:   make(chan struct{}),
	}
}

// Interval returns the effective scan interval
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Baseline records every reachable file that has no record yet.
// Existing records, and their baseline digests, are left untouched.
func (m *Monitor) Baseline(ctx context.Context) (int, error) {
	created := 0
	err := walkPaths(m.paths, func(path string) error {
		state, err := observe(path)
		if err != nil {
			m.logger.Debugw("Skipping unreadable file", "path", path, "error", err)
			return nil
		}
		if err := m.store.CreateFileRecord(ctx, state); err != nil {
			if errors.Is(err, core.ErrDuplicateKey) {
				return nil
			}
			return fmt.Errorf("failed to baseline %s: %w", path, err)
		}
		created++
		return nil
	})
	if err != nil {
		return created, err
	}

	m.logger.Infow("Integrity baseline complete", "new_records", created, "paths", len(m.paths))
	if err := m.store.RecordSystemEvent(ctx, core.EventTripwireBaseline,
		fmt.Sprintf("Baseline recorded for %d files", created), core.SeverityInfo); err != nil {
		return created, err
	}
	return created, nil
}

// ScanOnce walks the watched paths once and applies the drift policy to each file
func (m *Monitor) ScanOnce(ctx context.Context) (ScanResult, error) {
	start := time.Now()
	var result ScanResult

	err := walkPaths(m.paths, func(path string) error {
		state, err := observe(path)
		if err != nil {
			m.logger.Debugw("Skipping unreadable file", "path", path, "error", err)
			return nil
		}
		result.Scanned++

		rec, err := m.store.FetchFileBaseline(ctx, path)
		found := true
		if errors.Is(err, core.ErrNotFound) {
			found = false
		} else if err != nil {
			return err
		}

		switch Evaluate(state.Hash, rec, found) {
		case Baselined:
			if err := m.store.CreateFileRecord(ctx, state); err != nil && !errors.Is(err, core.ErrDuplicateKey) {
				return err
			}
			result.Created++
		case Drifted:
			m.logger.Warnw("File drift detected", "path", path, "baseline", rec.Baseline, "digest", state.Hash)
			if err := m.store.RecordSystemEvent(ctx, core.EventFileModified,
				fmt.Sprintf("%s hash drift detected", path), core.SeverityCritical); err != nil {
				return err
			}
			if err := m.store.UpdateFileHash(ctx, state); err != nil {
				return err
			}
			metrics.IntegrityDriftAlerts.Inc()
			result.Drifted++
		}
		return nil
	})

	metrics.IntegrityScans.Inc()
	metrics.IntegrityScanDuration.Observe(time.Since(start).Seconds())
	return result, err
}

// Watch scans once right away, then every interval until ctx is cancelled
// or Stop is called.
// Stop requests are observed between scans; a scan in progress completes.
// Only one Watch may run per store at a time.
func (m *Monitor) Watch(ctx context.Context) error {
	if _, loaded := activeWatchers.LoadOrStore(m.store, m); loaded {
		return ErrWatchInProgress
	}
	defer activeWatchers.Delete(m.store)

	if err := m.store.RecordSystemEvent(context.WithoutCancel(ctx), core.EventTripwireMonitor,
		fmt.Sprintf("Integrity monitor watching %d paths every %s", len(m.paths), m.interval), core.SeverityInfo); err != nil {
		return err
	}

	var trigger <-chan struct{}
	if m.realtime {
		rt, err := newRealtimeTrigger(m.paths, m.logger)
		if err != nil {
			m.logger.Warnw("Realtime integrity trigger unavailable, falling back to interval scans", "error", err)
		} else {
			defer rt.Close()
			trigger = rt.C()
		}
	}

	if err := m.watchScan(ctx); err != nil {
		return err
	}

	lastScan := time.Now()
	nextScan := lastScan.Add(m.interval)
	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.stopCh:
			return nil
		case <-trigger:
			earliest := lastScan.Add(m.minGap)
			if earliest.Before(nextScan) {
				nextScan = earliest
				timer.Reset(max(time.Until(nextScan), 0))
			}
			continue
		case <-timer.C:
		}

		if err := m.watchScan(ctx); err != nil {
			return err
		}

		lastScan = time.Now()
		nextScan = lastScan.Add(m.interval)
		timer.Reset(m.interval)
	}
}

// watchScan runs one scan for Watch. The scan itself is not cancellable;
// only store failures are returned.
func (m *Monitor) watchScan(ctx context.Context) error {
	result, err := m.ScanOnce(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, core.ErrStoreUnavailable):
		return fmt.Errorf("integrity scan aborted: %w", err)
	case err != nil:
		m.logger.Warnw("Integrity scan failed", "error", err)
	case result.Drifted > 0 || result.Created > 0:
		m.logger.Infow("Integrity scan complete", "scanned", result.Scanned, "created", result.Created, "drifted", result.Drifted)
	}
	return nil
}

// Stop asks Watch to return at its next loop boundary. Safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
