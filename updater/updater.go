// Package updater runs the periodic self-update check.
package updater

import (
	"bastion/core"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	// MinCheckInterval is the shortest allowed gap between update checks
	MinCheckInterval = time.Hour

	defaultRequestTimeout = 15 * time.Second
	maxManifestBytes      = 64 << 10
)

// Manifest is the release document served at the manifest URL
type Manifest struct {
	Version string `json:"version"`
	URL     string `json:"url,omitempty"`
}

// Config configures an Updater
type Config struct {
	Interval       time.Duration
	ManifestURL    string
	CurrentVersion string
	RequestTimeout time.Duration
}

// Result is the outcome of one check
type Result struct {
	Manifest  *Manifest
	Available bool
}

// Updater records UPDATE_CHECK events and, when a manifest URL is set,
// compares the published version with the running one.
type Updater struct {
	store       core.SystemEventRecorder
	logger      *zap.SugaredLogger
	client      *retryablehttp.Client
	interval    time.Duration
	manifestURL string
	current     string
}

// New creates an Updater. Intervals under MinCheckInterval are raised to it.
func New(store core.SystemEventRecorder, cfg Config, logger *zap.SugaredLogger) *Updater {
	interval := cfg.Interval
	if interval < MinCheckInterval {
		interval = MinCheckInterval
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 10 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &Updater{
		store:       store,
		logger:      logger,
		client:      client,
		interval:    interval,
		manifestURL: cfg.ManifestURL,
		current:     cfg.CurrentVersion,
	}
}

// Interval returns the effective check interval
func (u *Updater) Interval() time.Duration {
	return u.interval
}

// Run records AUTO_UPDATE, then checks once per interval until ctx is
// cancelled. Store failures end the loop.
func (u *Updater) Run(ctx context.Context) error {
	if err := u.store.RecordSystemEvent(ctx, core.EventAutoUpdate,
		"Auto-update loop initialized", core.SeverityInfo); err != nil {
		return err
	}
	u.logger.Infow("Auto-update loop started", "interval", u.interval, "manifest_url", u.manifestURL)

	timer := time.NewTimer(u.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if _, err := u.CheckOnce(ctx); err != nil {
			if errors.Is(err, core.ErrStoreUnavailable) {
				return err
			}
			u.logger.Warnw("Update check failed", "error", err)
		}
		timer.Reset(u.interval)
	}
}

// CheckOnce records UPDATE_CHECK and, with a manifest URL configured, fetches
// the manifest. A fetch failure is recorded as UPDATE_ERROR and not returned.
func (u *Updater) CheckOnce(ctx context.Context) (Result, error) {
	if err := u.store.RecordSystemEvent(ctx, core.EventUpdateCheck, "Auto-update triggered", core.SeverityInfo); err != nil {
		return Result{}, err
	}
	if u.manifestURL == "" {
		return Result{}, nil
	}

	m, err := u.fetchManifest(ctx)
	if err != nil {
		u.logger.Warnw("Failed to fetch update manifest", "url", u.manifestURL, "error", err)
		return Result{}, u.store.RecordSystemEvent(ctx, core.EventUpdateError,
			fmt.Sprintf("Failed to fetch manifest: %v", err), core.SeverityWarning)
	}

	res := Result{Manifest: m}
	if m.Version != "" && m.Version != u.current {
		res.Available = true
		u.logger.Infow("Update available", "current", u.current, "available", m.Version)
		if err := u.store.RecordSystemEvent(ctx, core.EventUpdateAvailable,
			fmt.Sprintf("Version %s available (running %s)", m.Version, u.current), core.SeverityWarning); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (u *Updater) fetchManifest(ctx context.Context) (*Manifest, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var m Manifest
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxManifestBytes)).Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	m.Version = strings.TrimSpace(m.Version)
	return &m, nil
}
