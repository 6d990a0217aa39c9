package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petal-labs/carelink/core"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation.
	CircuitOpen                         // Failing, reject calls.
	CircuitHalfOpen                     // Testing if recovered.
)

// String returns the string representation of a CircuitState.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Consecutive connectivity failures before opening.
	SuccessThreshold int           // Successes in half-open to close.
	OpenDuration     time.Duration // How long to stay open.
}

// DefaultCircuitBreakerConfig returns sensible circuit breaker defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		OpenDuration:     30 * time.Second,
	}
}

// ErrCircuitOpen is returned while the circuit breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker open: too many connection failures")

// CircuitBreaker stops sending requests after repeated connectivity failures.
// Any response from the server, whatever its status, counts as a success.
// Cancelled requests are not counted.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = def.OpenDuration
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// State returns the current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state
}

// Middleware returns the breaker as transport middleware.
func (b *CircuitBreaker) Middleware() Middleware {
	return func(next core.Transport) core.Transport {
		return core.TransportFunc(func(ctx context.Context, req *core.TransportRequest) (*core.TransportResponse, error) {
			if !b.allow() {
				return nil, ErrCircuitOpen
			}
			resp, err := next.Do(ctx, req)
			b.record(err)
			return resp, err
		})
	}
}

// WithCircuitBreaker creates middleware with its own breaker.
func WithCircuitBreaker(cfg CircuitBreakerConfig) Middleware {
	return NewCircuitBreaker(cfg).Middleware()
}

func (b *CircuitBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance()
	return b.state != CircuitOpen
}

// advance moves an expired open circuit to half-open. Callers hold mu.
func (b *CircuitBreaker) advance() {
	if b.state == CircuitOpen && b.now().Sub(b.lastFailure) > b.cfg.OpenDuration {
		b.state = CircuitHalfOpen
		b.successes = 0
	}
}

func (b *CircuitBreaker) record(err error) {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.state = CircuitOpen
		}
		return
	}

	if b.state == CircuitHalfOpen {
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = CircuitClosed
			b.failures = 0
		}
		return
	}
	b.failures = 0
}
