package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/mattn/go-sqlite3"
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts"`
	InitialDelay  time.Duration `json:"initial_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	BackoffFactor float64       `json:"backoff_factor"`
	JitterEnabled bool          `json:"jitter_enabled"`
	// Retryable decides whether an error is transient. Defaults to IsBusy.
	Retryable func(error) bool `json:"-"`
}

// DefaultRetryConfig returns defaults tuned for short SQLite lock contention.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
		Retryable:     IsBusy,
	}
}

// IsBusy reports whether err is a transient SQLite contention error. The
// busy_timeout pragma absorbs most of these; retry covers the rest.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// Retry executes fn with the default retry configuration.
func Retry(ctx context.Context, fn RetryableFunc) error {
	return RetryWithConfig(ctx, DefaultRetryConfig(), fn)
}

// RetryWithConfig executes fn, retrying transient errors with exponential
// backoff. The last error is returned when attempts are exhausted.
func RetryWithConfig(ctx context.Context, config RetryConfig, fn RetryableFunc) error {
	retryable := config.Retryable
	if retryable == nil {
		retryable = IsBusy
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) || attempt == config.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(calculateDelay(config, attempt)):
		}
	}

	return lastErr
}

// calculateDelay computes the delay for the next retry attempt
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffFactor, float64(attempt)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	// Jitter prevents synchronized retries from colliding again.
	if config.JitterEnabled && delay > 10*time.Nanosecond {
		delay += time.Duration(rand.Int63n(int64(delay / 10)))
	}

	return delay
}
