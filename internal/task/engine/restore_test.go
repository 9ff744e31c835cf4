package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskboard/internal/task"
)

func TestRestoreRebuildsTimers(t *testing.T) {
	h := newHarness(t,
		task.Definition{ID: "dig", Name: "Dig", DurationMinutes: 30, CooldownMinutes: 60},
		task.Definition{ID: "brew", Name: "Brew", DurationMinutes: 30, NotificationIntervalMinutes: 10},
	)
	ctx := context.Background()
	now := h.clock.Now()

	overdue := &task.Execution{
		ID: "overdue", TaskID: "dig", ScopeKey: "u1", ActorID: "u1", StartedAt: now.Add(-40 * time.Minute),
		Status: task.StatusRunning, CurrentUses: 1, CreatedAt: now.Add(-40 * time.Minute),
	}
	brewing := &task.Execution{
		ID: "brewing", TaskID: "brew", ScopeKey: "u2", ActorID: "u2", StartedAt: now.Add(-15 * time.Minute),
		Status: task.StatusRunning, CurrentUses: 1, CreatedAt: now.Add(-15 * time.Minute),
	}
	cooling := &task.Execution{
		ID: "cooling", TaskID: "dig", ScopeKey: "u3", ActorID: "u3", StartedAt: now.Add(-45 * time.Minute),
		Status: task.StatusCompleted, EndReason: task.EndCompleted, CurrentUses: 1,
		CompletedAt: task.TimePtr(now.Add(-15 * time.Minute)), AvailableAt: task.TimePtr(now.Add(15 * time.Minute)),
		CreatedAt: now.Add(-45 * time.Minute),
	}
	expired := &task.Execution{
		ID: "expired", TaskID: "dig", ScopeKey: "u4", ActorID: "u4", StartedAt: now.Add(-3 * time.Hour),
		Status: task.StatusCompleted, EndReason: task.EndCompleted, CurrentUses: 1,
		CompletedAt: task.TimePtr(now.Add(-150 * time.Minute)), AvailableAt: task.TimePtr(now.Add(-2 * time.Hour)),
		CreatedAt: now.Add(-3 * time.Hour),
	}
	for _, e := range []*task.Execution{overdue, brewing, cooling, expired} {
		require.NoError(t, h.store.Save(ctx, e))
	}

	require.NoError(t, h.svc.Restore(ctx))

	done := h.record(t, "overdue")
	require.Equal(t, task.StatusCompleted, done.Status)
	require.True(t, done.CompletedAt.Equal(now))
	require.True(t, done.AvailableAt.Equal(now.Add(20*time.Minute)))
	require.Equal(t, []task.NoticeKind{task.NoticeCompleted}, h.notifier.directKinds())

	require.True(t, h.sched.Has(cooldownKey("overdue")))
	require.True(t, h.sched.Has(completionKey("brewing")))
	require.False(t, h.sched.Has(reminderKey("brewing", "1")))
	require.True(t, h.sched.Has(reminderKey("brewing", "2")))
	require.True(t, h.sched.Has(cooldownKey("cooling")))
	require.False(t, h.sched.Has(cooldownKey("expired")))
	require.Len(t, h.sched.Entries(), 4)
}

func TestRestoreCompletesRunOfRemovedTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()

	require.NoError(t, h.store.Save(ctx, &task.Execution{
		ID: "orphan", TaskID: "gone", ScopeKey: "u1", ActorID: "u1", StartedAt: now.Add(-time.Minute),
		Status: task.StatusRunning, CurrentUses: 1, CreatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, h.svc.Restore(ctx))

	rec := h.record(t, "orphan")
	require.Equal(t, task.StatusCompleted, rec.Status)
	require.True(t, rec.AvailableAt.Equal(now.Add(-time.Minute)))
	require.Empty(t, h.sched.Entries())
}

func TestSweepRepairsLostTimers(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "dig", Name: "Dig", DurationMinutes: 30, CooldownMinutes: 60})
	ctx := context.Background()
	now := h.clock.Now()

	require.NoError(t, h.store.Save(ctx, &task.Execution{
		ID: "late", TaskID: "dig", ScopeKey: "u1", ActorID: "u1", StartedAt: now.Add(-40 * time.Minute),
		Status: task.StatusRunning, CurrentUses: 1, CreatedAt: now.Add(-40 * time.Minute),
	}))
	require.NoError(t, h.store.Save(ctx, &task.Execution{
		ID: "live", TaskID: "dig", ScopeKey: "u2", ActorID: "u2", StartedAt: now.Add(-10 * time.Minute),
		Status: task.StatusRunning, CurrentUses: 1, CreatedAt: now.Add(-10 * time.Minute),
	}))

	n, err := h.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, task.StatusCompleted, h.record(t, "late").Status)
	require.True(t, h.sched.Has(cooldownKey("late")))
	require.True(t, h.sched.Has(completionKey("live")))

	n, err = h.svc.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}
