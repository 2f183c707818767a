package circuitbreaker

import (
	"sync"
	"time"
)

type (
	CircuitBreaker struct {
		mu              sync.Mutex
		failureCount    int
		successCount    int
		lastFailureTime time.Time
		state           State
		maxFailures     int
		timeout         time.Duration
		resetThreshold  int
		now             func() time.Time
	}

	State int
)

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func NewCircuitBreaker(maxFailures int, timeout time.Duration, resetThreshold int) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	if resetThreshold < 1 {
		resetThreshold = 1
	}
	return &CircuitBreaker{
		maxFailures:    maxFailures,
		timeout:        timeout,
		resetThreshold: resetThreshold,
		state:          StateClosed,
		now:            time.Now,
	}
}

// CanExecute reports whether a call may go out. An open breaker whose timeout
// has elapsed moves to half-open and lets trial calls through.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.resetThreshold {
			cb.reset()
		}
	}
}

func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) reset() {
	cb.failureCount = 0
	cb.successCount = 0
	cb.state = StateClosed
}
