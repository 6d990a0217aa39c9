package core

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a request that failed before any response was
// received is sent again. It never applies to authorization retries, which
// are capped at one and driven by the refresh flow.
type RetryPolicy interface {
	// NextDelay returns the delay before the next attempt and whether to retry.
	// attempt starts at 0 for the first retry after the initial failure.
	NextDelay(attempt int, err error) (delay time.Duration, ok bool)
}

// RetryConfig configures exponential backoff.
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (default: 2)
	BaseDelay  time.Duration // Initial delay before first retry (default: 250ms)
	MaxDelay   time.Duration // Maximum delay cap (default: 5s)
	Jitter     float64       // Jitter factor 0.0-1.0 (default: 0.2)
}

// NoRetry returns a policy that never retries. This is the client default.
func NoRetry() RetryPolicy {
	return noRetry{}
}

type noRetry struct{}

func (noRetry) NextDelay(int, error) (time.Duration, bool) { return 0, false }

// NewRetryPolicy creates a backoff policy that retries connectivity failures.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = 0.2
	}
	return &exponentialBackoff{cfg: cfg}
}

type exponentialBackoff struct {
	cfg RetryConfig
}

func (e *exponentialBackoff) NextDelay(attempt int, err error) (time.Duration, bool) {
	if attempt >= e.cfg.MaxRetries || !isRetryable(err) {
		return 0, false
	}

	delay := float64(e.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if e.cfg.Jitter > 0 {
		jitterRange := delay * e.cfg.Jitter
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay > float64(e.cfg.MaxDelay) {
		delay = float64(e.cfg.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay), true
}

// isRetryable reports whether err is a connectivity failure.
// Cancellation is classified as Unknown and therefore never retried.
func isRetryable(err error) bool {
	return err != nil && errors.Is(err, ErrNoConnectivity)
}
