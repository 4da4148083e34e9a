// Package retry provides the single retry policy shared by every component
// that talks to the storage gateway.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff schedule together with a
// predicate deciding which errors are worth another attempt.
type Policy struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the second attempt. Each subsequent
	// delay doubles until it reaches MaxDelay.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Retryable decides whether an error is transient. A nil predicate
	// retries everything. Context errors are never retried.
	Retryable func(error) bool
}

// Do runs op until it succeeds, fails permanently, or MaxAttempts is reached.
// The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	attempts := uint64(0)
	if p.MaxAttempts > 1 {
		attempts = uint64(p.MaxAttempts - 1)
	}

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(bo, attempts), ctx))
}
