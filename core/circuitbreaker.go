package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// BreakerState is the state of a Breaker
type BreakerState string

const (
	// BreakerClosed lets calls through
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects calls until the cool-down elapses
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets a single probe call through
	BreakerHalfOpen BreakerState = "half_open"
)

// String returns the string representation
func (s BreakerState) String() string {
	return string(s)
}

var (
	// ErrBreakerOpen is returned by Allow while the breaker is open
	ErrBreakerOpen = errors.New("circuit breaker is open")
	// ErrInvalidBreakerConfig is returned when the breaker config is invalid
	ErrInvalidBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// BreakerConfig holds configuration for a Breaker
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures uint32
	// Cooldown is how long the breaker stays open before a probe is allowed
	Cooldown time.Duration
}

// Validate checks if the configuration is usable
func (c BreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Cooldown <= 0 {
		return errors.New("Cooldown must be greater than 0")
	}
	return nil
}

// DefaultBreakerConfig opens after 3 straight failures and retries after 30 minutes
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 3,
		Cooldown:    30 * time.Minute,
	}
}

// Breaker is a consecutive-failure circuit breaker guarding one remote source.
// While open it rejects calls; after the cool-down one probe is let through
// and its outcome closes or re-opens the breaker.
type Breaker struct {
	config   BreakerConfig
	now      func() time.Time
	mu       sync.Mutex
	state    BreakerState
	failures uint32
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker
func NewBreaker(config BreakerConfig) (*Breaker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBreakerConfig, err)
	}
	return &Breaker{config: config, now: time.Now, state: BreakerClosed}, nil
}

// Allow reports whether a call may proceed
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.config.Cooldown {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and clears the failure count
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts a failure and returns the resulting state
func (b *Breaker) RecordFailure() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.probing = false
	if b.state == BreakerHalfOpen || b.failures >= b.config.MaxFailures {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
	return b.state
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
