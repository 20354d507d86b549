// Package resilience provides the circuit breaker and retry decorators used
// to wrap the embedding provider and vector store clients against transient
// upstream failures.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// State is one of the three circuit breaker states.
type State int

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

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold      int
	SuccessThreshold      int
	Timeout               time.Duration
	MaxConcurrentRequests int
	OnStateChange         func(from, to State)
}

// DefaultCircuitBreakerConfig returns sensible defaults for an upstream API
// dependency (embedding provider or vector store).
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		FailureThreshold:      3,
		SuccessThreshold:      2,
		Timeout:               20 * time.Second,
		MaxConcurrentRequests: 5,
	}
}

// CircuitBreaker implements the standard closed/open/half-open pattern
// around an arbitrary operation.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	state           int32
	lastFailureTime int64

	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenRequests     int32

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
}

var (
	ErrCircuitOpen               = errors.New("resilience: circuit breaker is open")
	ErrTooManyConcurrentRequests = errors.New("resilience: too many concurrent requests in half-open state")
)

// NewCircuitBreaker creates a breaker with the given config (nil uses
// defaults).
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	return &CircuitBreaker{config: config, state: int32(StateClosed)}
}

// Execute runs fn under circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	return cb.ExecuteWithFallback(ctx, fn, nil)
}

// ExecuteWithFallback runs fn under circuit breaker protection, invoking
// fallback (if non-nil) instead of returning the raw error when the circuit
// rejects the call or fn itself fails.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(context.Context, error) error) error {
	if err := cb.canExecute(); err != nil {
		atomic.AddInt64(&cb.totalRejections, 1)
		if fallback != nil {
			return fallback(ctx, err)
		}
		return err
	}

	atomic.AddInt64(&cb.totalRequests, 1)
	err := fn(ctx)
	cb.recordResult(err)

	if err != nil && fallback != nil {
		return fallback(ctx, err)
	}
	return err
}

func (cb *CircuitBreaker) canExecute() error {
	switch cb.getState() {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.shouldTransitionToHalfOpen() {
			cb.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		current := atomic.AddInt32(&cb.halfOpenRequests, 1)
		if current > int32(cb.config.MaxConcurrentRequests) {
			atomic.AddInt32(&cb.halfOpenRequests, -1)
			return ErrTooManyConcurrentRequests
		}
		return nil
	default:
		return fmt.Errorf("resilience: unknown circuit breaker state %v", cb.getState())
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	state := cb.getState()
	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
	if state == StateHalfOpen {
		atomic.AddInt32(&cb.halfOpenRequests, -1)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddInt64(&cb.totalSuccesses, 1)
	switch cb.getState() {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
	case StateHalfOpen:
		if atomic.AddInt32(&cb.consecutiveSuccesses, 1) >= int32(cb.config.SuccessThreshold) {
			cb.transitionTo(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt64(&cb.totalFailures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())

	switch cb.getState() {
	case StateClosed:
		if atomic.AddInt32(&cb.consecutiveFailures, 1) >= int32(cb.config.FailureThreshold) {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen)
	}
}

func (cb *CircuitBreaker) shouldTransitionToHalfOpen() bool {
	last := atomic.LoadInt64(&cb.lastFailureTime)
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) >= cb.config.Timeout
}

func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := State(atomic.SwapInt32(&cb.state, int32(newState)))
	if oldState == newState {
		return
	}
	switch newState {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	case StateOpen:
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	case StateHalfOpen:
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenRequests, 0)
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) getState() State {
	return State(atomic.LoadInt32(&cb.state))
}

// GetState reports the current state.
func (cb *CircuitBreaker) GetState() State {
	return cb.getState()
}

// CircuitBreakerStats is a point-in-time snapshot of breaker counters.
type CircuitBreakerStats struct {
	State           State
	TotalRequests   int64
	TotalFailures   int64
	TotalSuccesses  int64
	TotalRejections int64
	FailureRate     float64
	LastFailureTime time.Time
}

// GetStats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	requests := atomic.LoadInt64(&cb.totalRequests)
	failures := atomic.LoadInt64(&cb.totalFailures)

	var failureRate float64
	if requests > 0 {
		failureRate = float64(failures) / float64(requests)
	}

	var lastFailure time.Time
	if nano := atomic.LoadInt64(&cb.lastFailureTime); nano > 0 {
		lastFailure = time.Unix(0, nano)
	}

	return CircuitBreakerStats{
		State:           cb.getState(),
		TotalRequests:   requests,
		TotalFailures:   failures,
		TotalSuccesses:  atomic.LoadInt64(&cb.totalSuccesses),
		TotalRejections: atomic.LoadInt64(&cb.totalRejections),
		FailureRate:     failureRate,
		LastFailureTime: lastFailure,
	}
}

// Reset forces the breaker back to the closed state.
func (cb *CircuitBreaker) Reset() {
	atomic.StoreInt32(&cb.state, int32(StateClosed))
	atomic.StoreInt32(&cb.consecutiveFailures, 0)
	atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	atomic.StoreInt32(&cb.halfOpenRequests, 0)
	atomic.StoreInt64(&cb.lastFailureTime, 0)
}
