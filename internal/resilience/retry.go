package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts, including the first
	InitialBackoff    time.Duration // Wait before the second attempt
	MaxBackoff        time.Duration // Upper bound on any single wait
	BackoffMultiplier float64       // 1.0 gives a fixed back-off
}

// DefaultRetryConfig is the connection policy for collaborator streams:
// three attempts, one second apart.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 1.0,
	}
}

// FixedBackoff returns a config that waits the same duration between attempts
func FixedBackoff(attempts int, wait time.Duration) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    wait,
		MaxBackoff:        wait,
		BackoffMultiplier: 1.0,
	}
}

// RetryableFunc is a function that can be retried. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// IsRetryableError checks if an error is retryable
type IsRetryableError func(error) bool

// Retry executes fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. The last error is returned.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	logger := zerolog.Ctx(ctx)

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		wait := CalculateBackoff(attempt-1, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", config.MaxAttempts).
			Dur("backoff", wait).
			Msg("Attempt failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt (0-based)
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	if multiplier <= 0 {
		multiplier = 1
	}
	backoff := float64(initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= multiplier
		if maxBackoff > 0 && time.Duration(backoff) > maxBackoff {
			return maxBackoff
		}
	}
	if maxBackoff > 0 && time.Duration(backoff) > maxBackoff {
		return maxBackoff
	}
	return time.Duration(backoff)
}

// PermanentError marks an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that IsTransient reports false for it
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient is the default retry predicate: everything except permanent
// errors and context cancellation.
func IsTransient(err error) bool {
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !errors.Is(err, ErrCircuitOpen)
}
