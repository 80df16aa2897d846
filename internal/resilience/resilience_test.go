package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func() error {
		attempts++
		return assert.AnError
	})

	assert.Equal(t, assert.AnError, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		Retryable:     func(error) bool { return true },
	}

	attempts := 0
	err := RetryWithConfig(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
		Retryable:     func(error) bool { return true },
	}

	attempts := 0
	err := RetryWithConfig(context.Background(), config, func() error {
		attempts++
		return assert.AnError
	})

	assert.Equal(t, assert.AnError, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, func() error {
		t.Fatal("fn should not run after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 1,
	})

	for i := 0; i < 2; i++ {
		err := cb.Call(func() error { return assert.AnError })
		assert.Equal(t, assert.AnError, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	// While open, the protected function is never invoked.
	err := cb.Call(func() error {
		t.Fatal("fn should not run while breaker is open")
		return nil
	})
	var open *ErrBreakerOpen
	assert.ErrorAs(t, err, &open)
}

func TestCircuitBreakerRecovers(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		SuccessThreshold: 1,
	})

	require.Error(t, cb.Call(func() error { return assert.AnError }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerReopensFromHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Millisecond,
		SuccessThreshold: 2,
	})

	require.Error(t, cb.Call(func() error { return assert.AnError }))
	time.Sleep(5 * time.Millisecond)

	// A failed probe sends it straight back to open.
	require.Error(t, cb.Call(func() error { return assert.AnError }))
	assert.Equal(t, StateOpen, cb.State())
}

func TestHealthRegistryLevels(t *testing.T) {
	hr := NewHealthRegistry(HealthConfig{
		CheckInterval:     time.Minute,
		CheckTimeout:      time.Second,
		DegradedThreshold: 1,
		DownThreshold:     3,
	})
	hr.Register("redis", nil)

	hr.RecordResult("redis", assert.AnError)
	snapshot := hr.Snapshot()
	assert.Equal(t, LevelDegraded, snapshot["redis"].Level)
	assert.False(t, hr.AnyDown())

	hr.RecordResult("redis", assert.AnError)
	hr.RecordResult("redis", assert.AnError)
	snapshot = hr.Snapshot()
	assert.Equal(t, LevelDown, snapshot["redis"].Level)
	assert.True(t, hr.AnyDown())

	// A single success restores the dependency.
	hr.RecordResult("redis", nil)
	snapshot = hr.Snapshot()
	assert.Equal(t, LevelHealthy, snapshot["redis"].Level)
	assert.Empty(t, snapshot["redis"].LastError)
}

func TestHealthRegistryIgnoresUnknownService(t *testing.T) {
	hr := NewHealthRegistry(DefaultHealthConfig())
	hr.RecordResult("ghost", assert.AnError)
	assert.Empty(t, hr.Snapshot())
}
