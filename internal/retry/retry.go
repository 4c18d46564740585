// Package retry re-runs transient failures with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/davidbz/kiln/internal/observability"
)

// Policy configures WithRetry.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first. Values < 1 mean 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt.
	BaseDelay time.Duration

	// Factor multiplies the wait for each further attempt.
	Factor float64

	// Jitter is the fraction of the wait added or removed at random (0.2 = ±20%).
	Jitter float64

	// IsRetryable overrides the default classification.
	IsRetryable func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns the policy used for provider calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		Factor:      2,
		Jitter:      0.2,
	}
}

// Delay returns the wait after the given failed attempt (1-based).
// random must be in [0, 1); 0.5 yields the un-jittered value.
func (p Policy) Delay(attempt int, random float64) time.Duration {
	factor := p.Factor
	if factor <= 0 {
		factor = 1
	}

	wait := float64(p.BaseDelay) * math.Pow(factor, float64(attempt-1))
	if p.Jitter > 0 {
		wait += wait * p.Jitter * (random*2 - 1)
	}
	if wait < 0 {
		wait = 0
	}

	return time.Duration(wait)
}

// WithRetry calls fn until it succeeds, fails with a non-retryable error,
// or MaxAttempts is reached. The last error is returned unwrapped.
// A cancelled ctx stops the wait and returns ctx.Err().
func WithRetry[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := policy.IsRetryable
	if classify == nil {
		classify = IsRetryable
	}

	logger := observability.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("retry succeeded", observability.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !classify(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}

		wait := policy.Delay(attempt, rand.Float64())
		logger.Debug("retrying after transient failure",
			observability.Int("attempt", attempt),
			observability.Int("max_attempts", attempts),
			observability.Duration("wait", wait),
			observability.Error(err),
		)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	logger.Warn("retries exhausted",
		observability.Int("attempts", attempts),
		observability.Error(lastErr),
	)
	return zero, lastErr
}

// retryableStatuses are HTTP statuses worth another attempt.
//
//nolint:gochecknoglobals // lookup table
var retryableStatuses = map[int]bool{
	408: true,
	429: true,
	499: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryableStatus reports whether an HTTP status is transient.
func IsRetryableStatus(status int) bool {
	return retryableStatuses[status]
}

// IsRetryable is the default classification:
// errors declaring IsRetryable() are trusted; bare context errors never retry;
// then transient network errors, then errors carrying a retryable HTTPStatus().
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var declared interface{ IsRetryable() bool }
	if errors.As(err, &declared) {
		return declared.IsRetryable()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if isTransientNetworkError(err) {
		return true
	}

	var withStatus interface{ HTTPStatus() int }
	if errors.As(err, &withStatus) {
		return IsRetryableStatus(withStatus.HTTPStatus())
	}

	return false
}

func isTransientNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
