package bus

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitState represents the breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 60 * time.Second
)

// CircuitBreaker tracks consecutive backing-store failures and short-circuits
// calls while the store is considered down. The OPEN -> HALF_OPEN transition
// is evaluated lazily on each IsClosed poll; there is no timer goroutine.
type CircuitBreaker struct {
	mu           sync.Mutex
	failureCount int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	state        CircuitState

	now func() time.Time // overridable in tests
}

// NewCircuitBreaker creates a breaker in the CLOSED state. Non-positive
// arguments fall back to the defaults.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		now:          time.Now,
	}
}

// RecordFailure counts one store failure and timestamps it, tripping the
// breaker to OPEN once the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.failureCount >= cb.threshold {
		if cb.state != CircuitOpen {
			slog.Warn("[CircuitBreaker] Tripped open", "consecutive_failures", cb.failureCount)
		}
		cb.state = CircuitOpen
	}
}

// RecordSuccess resets the failure count and forces the breaker CLOSED.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitClosed {
		slog.Info("[CircuitBreaker] Closed after successful call")
	}
	cb.failureCount = 0
	cb.state = CircuitClosed
}

// IsClosed reports whether a call may proceed. When OPEN and the reset
// timeout has elapsed since the last failure, the breaker moves to HALF_OPEN
// as a side effect and lets the probing call through.
func (cb *CircuitBreaker) IsClosed() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			slog.Info("[CircuitBreaker] Half-open, allowing probe call")
			return true
		}
		return false
	}
	return true
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
