package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/models"
)

// Policy defines how retries should be handled.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	JitterFraction float64 // 0.1 means ±10%

	// Retryable decides whether an error is worth another attempt. Nil falls
	// back to the error kind's transient flag.
	Retryable func(error) bool

	// Observer, when set, is told about every failed attempt.
	Observer Observer
}

// Observer receives one call per failed attempt.
type Observer func(op string, attempt int, err error)

// DefaultPolicy returns a sensible default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseDelay:      1 * time.Second,
		Multiplier:     2.0,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.1,
	}
}

// IsRetryable is the default classification: transient kinds only.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return models.KindOf(err).IsTransient()
}

// Do executes fn with exponential backoff. The returned error is always a
// *models.Error tagged with the attempt count.
func Do[T any](ctx context.Context, policy Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause := ctxErr
			if lastErr != nil {
				cause = fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
			}
			return zero, &models.Error{
				Kind:     models.ErrorKindTimeout,
				Op:       op,
				Attempts: attempt - 1,
				Err:      fmt.Errorf("deadline passed before attempt %d: %w", attempt, cause),
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if policy.Observer != nil {
			policy.Observer(op, attempt, err)
		}

		if !retryable(err) || attempt == maxAttempts {
			return zero, tag(op, attempt, err)
		}

		backoff := Backoff(policy, attempt-1)
		var tagged *models.Error
		if errors.As(err, &tagged) && tagged.RetryAfter > 0 {
			backoff = tagged.RetryAfter
			if policy.MaxDelay > 0 && backoff > policy.MaxDelay {
				backoff = policy.MaxDelay
			}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &models.Error{
				Kind:     models.ErrorKindTimeout,
				Op:       op,
				Attempts: attempt,
				Err:      fmt.Errorf("retry cancelled: %w (last error: %v)", ctx.Err(), lastErr),
			}
		case <-timer.C:
		}
	}

	return zero, tag(op, maxAttempts, lastErr)
}

// DoErr is Do for operations without a result value.
func DoErr(ctx context.Context, policy Policy, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, policy, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Backoff computes the delay before retry number attempt (zero-based).
func Backoff(policy Policy, attempt int) time.Duration {
	factor := policy.Multiplier
	if factor <= 0 {
		factor = 1
	}

	backoff := float64(policy.BaseDelay) * math.Pow(factor, float64(attempt))
	if policy.MaxDelay > 0 && backoff > float64(policy.MaxDelay) {
		backoff = float64(policy.MaxDelay)
	}

	if policy.JitterFraction > 0 {
		backoff *= 1 + policy.JitterFraction*(2*rand.Float64()-1)
	}

	return time.Duration(backoff)
}

func tag(op string, attempts int, err error) *models.Error {
	var tagged *models.Error
	if errors.As(err, &tagged) {
		cp := *tagged
		cp.Attempts = attempts
		if cp.Op == "" {
			cp.Op = op
		}
		return &cp
	}

	return &models.Error{
		Kind:     models.KindOf(err),
		Op:       op,
		Attempts: attempts,
		Err:      err,
	}
}
