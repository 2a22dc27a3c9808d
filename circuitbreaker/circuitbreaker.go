package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "closed"
}

var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling an upstream after maxFailures consecutive
// failures and lets a single trial request through once resetTimeout has passed.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	// countable decides which errors trip the breaker. Nil counts every error.
	countable func(error) bool
	now       func() time.Time

	mu              sync.Mutex
	failureCount    int
	lastFailureTime time.Time
	state           State
	probing         bool
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// CountOnly restricts the failures that count towards opening the circuit.
// Rejections caused by the caller's input should not open it.
func (cb *CircuitBreaker) CountOnly(fn func(error) bool) *CircuitBreaker {
	cb.countable = fn
	return cb
}

// Execute runs fn unless the circuit is open. fn runs without holding the
// breaker's lock so concurrent calls are not serialized.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) <= cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.failureCount = 0
		cb.probing = true
	case StateHalfOpen:
		// one trial request at a time
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasTrial := cb.state == StateHalfOpen
	cb.probing = false

	if err != nil && (cb.countable == nil || cb.countable(err)) {
		cb.failureCount++
		cb.lastFailureTime = cb.now()

		if wasTrial || cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return
	}

	// Success, or an error that says nothing about upstream health
	cb.state = StateClosed
	cb.failureCount = 0
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
