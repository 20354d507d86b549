package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig controls a Retrier's backoff schedule.
type RetryConfig struct {
	MaxAttempts     int // 0 = unlimited
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64 // jitter, 0-1
	RetryIf         func(error) bool
}

// DefaultRetryConfig returns a moderate exponential-backoff schedule.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		Multiplier:      2.0,
		RandomizeFactor: 0.2,
		RetryIf:         DefaultRetryIf,
	}
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// RetryResult summarizes one Do() call.
type RetryResult struct {
	Attempts int
	Duration time.Duration
	Err      error
}

// Retrier executes an Operation with exponential backoff and jitter.
type Retrier struct {
	config *RetryConfig
}

// NewRetrier creates a Retrier with the given config (nil uses defaults).
func NewRetrier(config *RetryConfig) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.RandomizeFactor < 0 {
		config.RandomizeFactor = 0
	} else if config.RandomizeFactor > 1 {
		config.RandomizeFactor = 1
	}
	if config.RetryIf == nil {
		config.RetryIf = DefaultRetryIf
	}
	return &Retrier{config: config}
}

// Do runs op, retrying per the configured schedule until it succeeds, the
// predicate rejects the error, attempts are exhausted, or ctx is cancelled.
func (r *Retrier) Do(ctx context.Context, op Operation) *RetryResult {
	start := time.Now()
	result := &RetryResult{}
	delay := r.config.InitialDelay

	var lastErr error
	for attempt := 1; r.config.MaxAttempts == 0 || attempt <= r.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			lastErr = fmt.Errorf("context cancelled: %w", err)
			break
		}

		err := op(ctx)
		if err == nil {
			result.Duration = time.Since(start)
			return result
		}
		lastErr = err

		if !r.config.RetryIf(err) {
			break
		}
		if r.config.MaxAttempts > 0 && attempt >= r.config.MaxAttempts {
			break
		}

		select {
		case <-time.After(r.jitter(delay)):
			delay = r.nextDelay(delay)
		case <-ctx.Done():
			lastErr = fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			result.Duration = time.Since(start)
			result.Err = lastErr
			return result
		}
	}

	result.Duration = time.Since(start)
	result.Err = lastErr
	return result
}

func (r *Retrier) jitter(delay time.Duration) time.Duration {
	if r.config.RandomizeFactor == 0 {
		return delay
	}
	delta := float64(delay) * r.config.RandomizeFactor
	lo, hi := float64(delay)-delta, float64(delay)+delta
	return time.Duration(lo + rand.Float64()*(hi-lo))
}

func (r *Retrier) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * r.config.Multiplier)
	if next > r.config.MaxDelay {
		return r.config.MaxDelay
	}
	return next
}

// DefaultRetryIf retries unless the error reports Temporary() == false or is
// a *PermanentError. It does not inspect error strings; see
// UpstreamErrorRetryable for that.
func DefaultRetryIf(err error) bool {
	if err == nil {
		return false
	}

	type temporary interface{ Temporary() bool }
	if te, ok := err.(temporary); ok {
		return te.Temporary()
	}

	var permErr *PermanentError
	if errors.As(err, &permErr) {
		return false
	}
	return true
}

// UpstreamErrorRetryable classifies an error returned by an HTTP-based
// upstream (embedding provider, vector store) by matching well-known
// substrings, since those clients return plain errors rather than typed
// ones.
func UpstreamErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	for _, p := range []string{
		"invalid api key", "unauthorized", "forbidden",
		"insufficient_quota", "invalid_request_error",
		"model not found", "context length exceeded",
	} {
		if strings.Contains(msg, p) {
			return false
		}
	}
	for _, p := range []string{
		"connection refused", "connection reset", "timeout", "i/o timeout",
		"temporary failure", "eof", "429", "500", "502", "503", "504",
		"rate limit", "quota exceeded", "overloaded", "temporarily unavailable",
		"server_error",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// PermanentError wraps an error that should never be retried.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return fmt.Sprintf("permanent error: %v", e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }
