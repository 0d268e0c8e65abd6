package utils

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxRetryAfter caps a destination supplied Retry-After.
const MaxRetryAfter = time.Hour

// Backoff computes capped exponential delays with additive jitter.
type Backoff struct {
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64

	// Rand returns a value in [0,1). Nil uses math/rand/v2.
	Rand func() float64
}

// Delay returns the wait before retry number attempt (1-based):
// min(Max, Base*2^(attempt-1)) plus a random extra of up to JitterFactor of it.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if b.JitterFactor > 0 {
		random := rand.Float64
		if b.Rand != nil {
			random = b.Rand
		}
		delay += delay * b.JitterFactor * random()
	}
	return time.Duration(delay)
}

// ParseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date. The result is clamped to [0, MaxRetryAfter].
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}

	var delay time.Duration
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return 0, false
		}
		if secs > int64(MaxRetryAfter/time.Second) {
			return MaxRetryAfter, true
		}
		delay = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(value); err == nil {
		delay = at.Sub(now)
	} else {
		return 0, false
	}

	if delay < 0 {
		delay = 0
	}
	if delay > MaxRetryAfter {
		delay = MaxRetryAfter
	}
	return delay, true
}

// RetryConfig controls RetryWithBackoff.
type RetryConfig struct {
	MaxAttempts int
	Backoff     Backoff

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool
}

// DefaultRetryConfig retries three times starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Backoff:     Backoff{Base: time.Second, Max: 30 * time.Second, JitterFactor: 0.1},
	}
}

// RetryWithBackoff runs fn until it succeeds, returns a non-retryable error,
// exhausts MaxAttempts or ctx is cancelled.
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if config.RetryableErrors != nil && !config.RetryableErrors(lastErr) {
			return lastErr
		}
		if attempt == config.MaxAttempts {
			break
		}

		timer := time.NewTimer(config.Backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
