package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"taskboard/internal/eventbus"
	logx "taskboard/pkg/logx"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

func newTestService(t *testing.T) (*Service, fakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	s := New(Config{CallbackTimeout: time.Second}, clock, logx.Nop(), eventbus.New())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s, clock
}

// recorder collects fired keys in order.
type recorder struct {
	mu   sync.Mutex
	keys []string
}

func (r *recorder) cb(ctx context.Context, key string) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return nil
}

func (r *recorder) fired() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.keys...)
}

func TestScheduleAtFiresAtInstant(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(t)
	rec := &recorder{}

	require.NoError(t, s.ScheduleAt("a", t0.Add(time.Minute), rec.cb))
	require.True(t, s.Has("a"))

	clock.Advance(59 * time.Second)
	require.Never(t, func() bool { return len(rec.fired()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(rec.fired()) == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, s.Has("a"))
}

func TestScheduleAtReplacesExistingKey(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(t)

	var first, second atomic.Int32
	require.NoError(t, s.ScheduleAt("k", t0.Add(time.Minute), func(context.Context, string) error { first.Add(1); return nil }))
	require.NoError(t, s.ScheduleAt("k", t0.Add(2*time.Minute), func(context.Context, string) error { second.Add(1); return nil }))

	clock.Advance(3 * time.Minute)
	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Zero(t, first.Load())
	require.Len(t, s.Entries(), 0)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(t)
	rec := &recorder{}

	require.False(t, s.Cancel("unknown"))
	require.NoError(t, s.ScheduleAt("a", t0.Add(time.Minute), rec.cb))
	require.True(t, s.Cancel("a"))
	require.False(t, s.Cancel("a"))

	clock.Advance(time.Hour)
	require.Never(t, func() bool { return len(rec.fired()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(t)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.ScheduleAt("a", t0.Add(time.Second), func(context.Context, string) error {
		close(started)
		<-release
		return nil
	}))
	clock.Advance(time.Second)
	<-started

	require.False(t, s.Cancel("a"), "cancel racing a fire resolves to fired")
	close(release)
}

func TestCancelPrefix(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	rec := &recorder{}

	for _, k := range []string{"reminder_x_1", "reminder_x_final", "reminder_y_1", "x"} {
		require.NoError(t, s.ScheduleAt(k, t0.Add(time.Hour), rec.cb))
	}
	require.Equal(t, 2, s.CancelPrefix("reminder_x_"))
	require.Equal(t, []Entry{{Key: "reminder_y_1", At: t0.Add(time.Hour)}, {Key: "x", At: t0.Add(time.Hour)}}, s.Entries())
}

func TestPastInstantFiresPromptly(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	rec := &recorder{}

	require.NoError(t, s.ScheduleAt("late", t0.Add(-time.Minute), rec.cb))
	require.Eventually(t, func() bool { return len(rec.fired()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestRestoreAllFiresPastSynchronouslyInOrder(t *testing.T) {
	t.Parallel()
	s, clock := newTestService(t)
	rec := &recorder{}

	err := s.RestoreAll(context.Background(), []Pending{
		{Key: "p2", At: t0.Add(-5 * time.Minute), Fn: rec.cb},
		{Key: "future", At: t0.Add(10 * time.Minute), Fn: rec.cb},
		{Key: "p1", At: t0.Add(-10 * time.Minute), Fn: rec.cb},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p2", "p1"}, rec.fired())
	require.True(t, s.Has("future"))

	clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return len(rec.fired()) == 3 }, time.Second, 5*time.Millisecond)
}

func TestRestoreAllJoinsCallbackErrors(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)
	boom := errors.New("boom")

	err := s.RestoreAll(context.Background(), []Pending{
		{Key: "bad", At: t0, Fn: func(context.Context, string) error { return boom }},
		{Key: "panics", At: t0, Fn: func(context.Context, string) error { panic("x") }},
		{Key: "nil", At: t0},
	})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "panic: x")
	require.ErrorIs(t, err, ErrNilCallback)
}

func TestScheduleAtValidatesAndStops(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)

	require.ErrorIs(t, s.ScheduleAt("", t0, (&recorder{}).cb), ErrKeyRequired)
	require.ErrorIs(t, s.ScheduleAt("k", t0, nil), ErrNilCallback)

	require.NoError(t, s.ScheduleAt("k", t0.Add(time.Hour), (&recorder{}).cb))
	s.Stop(context.Background())
	require.False(t, s.Has("k"))
	require.ErrorIs(t, s.ScheduleAt("k", t0.Add(time.Hour), (&recorder{}).cb), ErrStopped)
}

func TestCallbackGetsBoundedContext(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)

	got := make(chan time.Time, 1)
	require.NoError(t, s.ScheduleAt("k", t0, func(ctx context.Context, _ string) error {
		dl, _ := ctx.Deadline()
		got <- dl
		return nil
	}))
	select {
	case dl := <-got:
		require.False(t, dl.IsZero())
	case <-time.After(time.Second):
		t.Fatal("callback did not run")
	}
}

func TestEveryValidatesSpec(t *testing.T) {
	t.Parallel()
	s, _ := newTestService(t)

	require.Error(t, s.Every("sweep", "whenever", func(context.Context) error { return nil }))
	require.NoError(t, s.Every("sweep", "@every 1m", func(context.Context) error { return nil }))
	require.NoError(t, s.Every("sweep", "*/5 * * * *", func(context.Context) error { return nil }))
	require.True(t, s.RemoveJob("sweep"))
	require.False(t, s.RemoveJob("sweep"))
}

func TestSpreadScheduleDelaysOnlyFirstRun(t *testing.T) {
	t.Parallel()

	sched, jitter := spreadInterval(time.Minute, t0, "sweep")
	require.GreaterOrEqual(t, jitter, time.Duration(0))
	require.Less(t, jitter, 30*time.Second)

	first := sched.Next(t0)
	require.Equal(t, t0.Add(time.Minute+jitter), first)
	require.Equal(t, first.Add(time.Minute).Truncate(time.Second), sched.Next(first).Truncate(time.Second))
}
