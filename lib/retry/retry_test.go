package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	boom := errors.New("boom")
	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return boom
	})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, attempts)
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	permanent := errors.New("permanent")
	p := Policy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Retryable:    func(err error) bool { return !errors.Is(err, permanent) },
	}

	attempts := 0
	err := p.Do(context.Background(), func() error {
		attempts++
		return permanent
	})

	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, attempts)
}

func TestDoHonorsCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 100, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := p.Do(ctx, func() error {
		attempts++
		return errors.New("transient")
	})

	require.Error(t, err)
	require.Less(t, attempts, 5)
}
