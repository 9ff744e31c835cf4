package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGoRecordsFirstErrorAndCancels(t *testing.T) {
	t.Parallel()

	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("fails", func(context.Context) error { return boom })
	s.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "fails")
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go0("panics", func(context.Context) { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorContains(t, s.Wait(ctx), "kaboom")
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	require.EqualValues(t, 3, runs.Load())
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithFatalOnFinalError(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorContains(t, s.Wait(ctx), "always")
	require.EqualValues(t, 3, runs.Load())
}

func TestStopCancelsContext(t *testing.T) {
	t.Parallel()

	s := New(context.Background())
	s.Go0("loop", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
