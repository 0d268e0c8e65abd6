package utils

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoff_Jitter(t *testing.T) {
	b := Backoff{Base: time.Second, Max: time.Minute, JitterFactor: 0.5, Rand: func() float64 { return 0.5 }}
	assert.Equal(t, 1250*time.Millisecond, b.Delay(1))

	random := Backoff{Base: time.Second, Max: time.Minute, JitterFactor: 0.2}
	for i := 0; i < 100; i++ {
		d := random.Delay(2)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	d, ok := ParseRetryAfter("30", now)
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	d, ok = ParseRetryAfter("999999", now)
	assert.True(t, ok)
	assert.Equal(t, MaxRetryAfter, d)

	d, ok = ParseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)

	d, ok = ParseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now)
	assert.True(t, ok)
	assert.Equal(t, time.Duration(0), d)

	_, ok = ParseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("soon", now)
	assert.False(t, ok)
	_, ok = ParseRetryAfter("-5", now)
	assert.False(t, ok)
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, Backoff: Backoff{Base: time.Millisecond, Max: time.Millisecond}}
}

func TestRetryWithBackoff_SucceedsEventually(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetry(3), func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	cfg := fastRetry(5)
	cfg.RetryableErrors = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := RetryConfig{MaxAttempts: 3, Backoff: Backoff{Base: time.Hour, Max: time.Hour}}
	err := RetryWithBackoff(ctx, cfg, func() error { return errors.New("x") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry cancelled")
}
