package observability

import (
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed lets every call through.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets a limited number of trial calls through.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrBreakerOpen is returned by Call while the breaker rejects calls.
var ErrBreakerOpen = errors.New("circuit breaker open")

// CircuitBreaker stops calling a failing downstream (archive store, broker)
// after maxFailures consecutive failures and tries it again after cooldown.
// The lock is not held while the wrapped call runs.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	halfOpenMax int
	now         func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	trials      int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a closed breaker. maxFailures below 1 is treated as 1.
func NewCircuitBreaker(name string, maxFailures int, cooldown time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		halfOpenMax: 1,
		now:         time.Now,
	}
}

// Call runs fn unless the breaker is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.admit() {
		return ErrBreakerOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.cooldown {
		cb.setState(StateHalfOpen)
		cb.trials, cb.successes = 0, 0
	}
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.trials < cb.halfOpenMax {
			cb.trials++
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.setState(StateOpen)
		}
		return
	}
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.failures = 0
			cb.setState(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	EffectBreakerState.WithLabelValues(cb.name).Set(float64(s))
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }
