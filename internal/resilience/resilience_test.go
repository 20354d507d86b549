package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, MaxConcurrentRequests: 1,
	})
	failing := func(context.Context) error { return errors.New("boom") }

	require.Error(t, cb.Execute(context.Background(), failing))
	require.Error(t, cb.Execute(context.Background(), failing))
	assert.Equal(t, StateOpen, cb.GetState())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(&CircuitBreakerConfig{
		FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Millisecond, MaxConcurrentRequests: 1,
	})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(5 * time.Millisecond)
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestRetrierStopsOnPermanentError(t *testing.T) {
	r := NewRetrier(&RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1})
	attempts := 0
	result := r.Do(context.Background(), func(context.Context) error {
		attempts++
		return &PermanentError{Err: errors.New("bad request")}
	})
	assert.Equal(t, 1, attempts)
	assert.Error(t, result.Err)
}

func TestRetrierSucceedsEventually(t *testing.T) {
	r := NewRetrier(&RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1})
	attempts := 0
	result := r.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, result.Err)
	assert.Equal(t, 3, attempts)
}

func TestUpstreamErrorRetryableClassifiesKnownPatterns(t *testing.T) {
	assert.True(t, UpstreamErrorRetryable(errors.New("429 rate limit exceeded")))
	assert.False(t, UpstreamErrorRetryable(errors.New("401 invalid api key")))
	assert.False(t, UpstreamErrorRetryable(nil))
}
