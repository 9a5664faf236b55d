package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

// DefaultMaxRetries is the default number of retries after the first attempt.
const DefaultMaxRetries = 3

// Policy defines retry behavior for transient transport errors.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// Do executes fn with exponential backoff and jitter.
// It retries only if shouldRetry returns true for the error. The attempt
// number (starting at 0) is passed to fn.
func Do(ctx context.Context, policy *Policy, fn func(attempt int) error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = DefaultPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < policy.MaxRetries {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("retry cancelled: %w", errors.Join(ctxErr, lastErr))
			}
			delay := Backoff(attempt, policy.BaseDelay, policy.MaxDelay)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled: %w", errors.Join(ctx.Err(), lastErr))
			case <-timer.C:
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", policy.MaxRetries, lastErr)
}

// Backoff returns exponential backoff with full jitter, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	backoff := float64(base) * math.Pow(2, float64(attempt))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	return time.Duration(rand.Float64() * backoff)
}

var transientPatterns = []string{
	"throttl",
	"rate exceed",
	"too many requests",
	"request limit",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"connection reset",
	"connection refused",
	"timeout",
	"tls handshake",
	"temporary failure",
	"eof",
}

// IsTransientError checks if an error is likely transient and retryable.
// Context cancellation is never transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
