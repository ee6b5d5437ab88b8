package threat

import (
	"bastion/core"
	"bastion/metrics"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

const (
	// MinUpdateInterval is the shortest allowed gap between feed updates
	MinUpdateInterval = 5 * time.Minute
	// DefaultRequestTimeout applies when no per-request timeout is configured
	DefaultRequestTimeout = 10 * time.Second
	// ThreatTypeFeed tags indicators ingested from feeds
	ThreatTypeFeed = "feed"
)

// RiskScorer assigns a risk score to an ingested indicator
type RiskScorer func(indicator string) int

// RandomRisk scores every indicator uniformly in [60, 95]
func RandomRisk(string) int {
	return 60 + rand.IntN(36)
}

// Store is the subset of the event store the engine needs
type Store interface {
	core.ThreatIndicatorStore
	core.SystemEventRecorder
}

// Config configures an Engine
type Config struct {
	URLs           []string
	UpdateInterval time.Duration
	RequestTimeout time.Duration
	RetryMax       int
}

// Option customises an Engine
type Option func(*Engine)

// WithRiskScorer replaces the default random scorer
func WithRiskScorer(scorer RiskScorer) Option {
	return func(e *Engine) { e.scorer = scorer }
}

// WithAfterUpdate registers a callback run after every successful UpdateOnce inside Run
func WithAfterUpdate(fn func(ctx context.Context, ingested int)) Option {
	return func(e *Engine) { e.afterUpdate = fn }
}

// WithBreakerConfig overrides the per-feed circuit breaker settings
func WithBreakerConfig(cfg core.BreakerConfig) Option {
	return func(e *Engine) { e.breakerCfg = cfg }
}

// Engine pulls plain-text indicator feeds and upserts every address into the store
type Engine struct {
	store       Store
	logger      *zap.SugaredLogger
	client      *retryablehttp.Client
	urls        []string
	interval    time.Duration
	scorer      RiskScorer
	afterUpdate func(ctx context.Context, ingested int)
	breakerCfg  core.BreakerConfig
	breakers    map[string]*core.Breaker
}

// NewEngine creates an Engine. Update intervals under MinUpdateInterval are raised to it.
func NewEngine(store Store, cfg Config, logger *zap.SugaredLogger, opts ...Option) *Engine {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	interval := cfg.UpdateInterval
	if interval < MinUpdateInterval {
		interval = MinUpdateInterval
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	e := &Engine{
		store:      store,
		logger:     logger,
		client:     client,
		urls:       append([]string(nil), cfg.URLs...),
		interval:   interval,
		scorer:     RandomRisk,
		breakerCfg: core.DefaultBreakerConfig(),
		breakers:   make(map[string]*core.Breaker),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, u := range e.urls {
		b, err := core.NewBreaker(e.breakerCfg)
		if err != nil {
			logger.Warnw("Invalid breaker config, using defaults", "error", err)
			b, _ = core.NewBreaker(core.DefaultBreakerConfig())
		}
		e.breakers[u] = b
	}
	return e
}

// Interval returns the effective update interval
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// UpdateOnce fetches every configured feed once and returns how many
// indicators were upserted. A failing feed is recorded as a WARNING and
// skipped; only store failures abort the update.
func (e *Engine) UpdateOnce(ctx context.Context) (int, error) {
	count := 0
	for _, url := range e.urls {
		n, err := e.ingestFeed(ctx, url)
		count += n
		if err == nil {
			continue
		}
		if errors.Is(err, core.ErrStoreUnavailable) || ctx.Err() != nil {
			return count, err
		}
		if errors.Is(err, core.ErrBreakerOpen) {
			e.logger.Debugw("Skipping feed with open circuit", "url", url)
			metrics.ThreatFeedFetches.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.ThreatFeedFetches.WithLabelValues("error").Inc()
		e.logger.Warnw("Threat feed fetch failed", "url", url, "error", err)
		if recErr := e.store.RecordSystemEvent(ctx, core.EventThreatFeedError,
			fmt.Sprintf("Failed to fetch %s", url), core.SeverityWarning); recErr != nil {
			return count, recErr
		}
	}

	metrics.ThreatIndicatorsIngested.Add(float64(count))
	e.logger.Infow("Threat feeds updated", "indicators", count, "feeds", len(e.urls))
	if err := e.store.RecordSystemEvent(ctx, core.EventThreatUpdate,
		fmt.Sprintf("Ingested %d indicators", count), core.SeverityInfo); err != nil {
		return count, err
	}
	return count, nil
}

// fetchError marks failures of the remote source, as opposed to the store
type fetchError struct{ err error }

func (f fetchError) Error() string { return f.err.Error() }
func (f fetchError) Unwrap() error { return f.err }

func (e *Engine) ingestFeed(ctx context.Context, url string) (int, error) {
	breaker := e.breakers[url]
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return 0, err
		}
	}

	count, err := e.fetchAndUpsert(ctx, url)
	if breaker != nil {
		var fe fetchError
		switch {
		case err == nil:
			breaker.RecordSuccess()
		case errors.As(err, &fe):
			if breaker.RecordFailure() == core.BreakerOpen {
				e.logger.Warnw("Threat feed circuit opened", "url", url)
			}
		}
	}
	return count, err
}

func (e *Engine) fetchAndUpsert(ctx context.Context, url string) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fetchError{fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("User-Agent", "bastion-threat-intel")

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, fetchError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fetchError{fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	count := 0
	err = parseFeed(ctx, resp.Body, func(indicator string) error {
		if err := e.store.UpsertThreatIndicator(ctx, indicator, ThreatTypeFeed, e.scorer(indicator)); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		if errors.Is(err, core.ErrStoreUnavailable) || ctx.Err() != nil {
			return count, err
		}
		return count, fetchError{fmt.Errorf("failed to read feed body: %w", err)}
	}
	metrics.ThreatFeedFetches.WithLabelValues("ok").Inc()
	return count, nil
}

// Run updates the feeds immediately and then every interval until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	if err := e.store.RecordSystemEvent(ctx, core.EventThreatLoop, "Threat intel loop started", core.SeverityInfo); err != nil {
		return err
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		n, err := e.UpdateOnce(ctx)
		switch {
		case err == nil:
			if e.afterUpdate != nil {
				e.afterUpdate(ctx, n)
			}
		case errors.Is(err, core.ErrStoreUnavailable):
			return fmt.Errorf("threat intel update aborted: %w", err)
		case ctx.Err() != nil:
			return nil
		default:
			e.logger.Warnw("Threat intel update failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
