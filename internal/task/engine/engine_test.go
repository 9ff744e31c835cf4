package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"taskboard/internal/eventbus"
	"taskboard/internal/storage"
	"taskboard/internal/task"
	"taskboard/internal/task/scheduler"
	logx "taskboard/pkg/logx"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	wait = time.Second
	tick = 5 * time.Millisecond
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type defStore map[string]task.Definition

func (d defStore) FindByID(_ context.Context, id string) (task.Definition, error) {
	def, ok := d[id]
	if !ok {
		return task.Definition{}, task.ErrTaskNotFound
	}
	return def, nil
}

func (d defStore) FindAll(context.Context) ([]task.Definition, error) {
	out := make([]task.Definition, 0, len(d))
	for _, def := range d {
		out = append(out, def)
	}
	return out, nil
}

func (d defStore) FindByBoardID(ctx context.Context, boardID string) ([]task.Definition, error) {
	all, _ := d.FindAll(ctx)
	var out []task.Definition
	for _, def := range all {
		if def.BoardID == boardID {
			out = append(out, def)
		}
	}
	return out, nil
}

type notifierRec struct {
	mu         sync.Mutex
	direct     []task.Notice
	broadcasts []task.Notice
}

func (n *notifierRec) Direct(_ context.Context, no task.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct = append(n.direct, no)
	return nil
}

func (n *notifierRec) Broadcast(_ context.Context, no task.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcasts = append(n.broadcasts, no)
	return nil
}

func (n *notifierRec) directKinds() []task.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]task.NoticeKind, 0, len(n.direct))
	for _, no := range n.direct {
		out = append(out, no.Kind)
	}
	return out
}

func (n *notifierRec) lastDirect() task.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.direct[len(n.direct)-1]
}

func (n *notifierRec) broadcastCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.broadcasts)
}

type auditorRec struct {
	mu     sync.Mutex
	events []task.AuditEvent
}

func (a *auditorRec) Record(_ context.Context, ev task.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	return nil
}

func (a *auditorRec) kinds() []task.AuditKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]task.AuditKind, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (a *auditorRec) count(kind task.AuditKind) int {
	n := 0
	for _, k := range a.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

type harness struct {
	svc      *Service
	sched    *scheduler.Service
	clock    fakeClock
	store    *storage.Memory
	notifier *notifierRec
	auditor  *auditorRec
}

func newHarness(t *testing.T, defs ...task.Definition) *harness {
	t.Helper()
	return newHarnessWith(t, nil, defs...)
}

// newHarnessWith lets a test put a wrapper in front of the memory store.
func newHarnessWith(t *testing.T, wrap func(*storage.Memory) task.ExecutionStore, defs ...task.Definition) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(t0)
	bus := eventbus.New()
	sched := scheduler.New(scheduler.Config{CallbackTimeout: 5 * time.Second}, clock, logx.Nop(), bus)
	t.Cleanup(func() { sched.Stop(context.Background()) })

	ds := defStore{}
	for _, d := range defs {
		ds[d.ID] = d
	}
	var seq atomic.Int64
	h := &harness{
		sched:    sched,
		clock:    clock,
		store:    storage.NewMemory(),
		notifier: &notifierRec{},
		auditor:  &auditorRec{},
	}
	var execs task.ExecutionStore = h.store
	if wrap != nil {
		execs = wrap(h.store)
	}
	h.svc = New(Config{}, Deps{
		Definitions: ds,
		Executions:  execs,
		Timers:      sched,
		Notifier:    h.notifier,
		Auditor:     h.auditor,
		Clock:       clock,
		Bus:         bus,
		Log:         logx.Nop(),
		NewID:       func() string { return fmt.Sprintf("exec-%d", seq.Add(1)) },
	})
	return h
}

func (h *harness) record(t *testing.T, id string) *task.Execution {
	t.Helper()
	e, err := h.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func (h *harness) status(t *testing.T, actor, taskID string) task.View {
	t.Helper()
	v, err := h.svc.CheckStatus(context.Background(), actor, taskID, "g1")
	require.NoError(t, err)
	return v
}

func start(actor, taskID string) StartRequest {
	return StartRequest{ActorID: actor, TaskID: taskID, GuildID: "g1", ChannelID: "c1"}
}

func TestTimedTaskRunsThenCoolsDown(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "dig", Name: "Dig", DurationMinutes: 30, CooldownMinutes: 60})
	ctx := context.Background()

	exec, err := h.svc.Start(ctx, start("u1", "dig"))
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, exec.Status)
	require.Equal(t, "u1", exec.ScopeKey)
	require.Equal(t, 1, exec.CurrentUses)
	require.True(t, h.sched.Has(completionKey(exec.ID)))

	v := h.status(t, "u1", "dig")
	require.Equal(t, task.StateRunning, v.State)
	require.Equal(t, 30, v.Remaining.Minutes)

	_, err = h.svc.Start(ctx, start("u1", "dig"))
	var running *task.AlreadyRunningError
	require.ErrorAs(t, err, &running)
	require.ErrorIs(t, err, task.ErrAlreadyRunning)
	require.Equal(t, 30, running.Remaining.Minutes)

	h.clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return h.sched.Has(cooldownKey(exec.ID)) }, wait, tick)

	done := h.record(t, exec.ID)
	require.Equal(t, task.StatusCompleted, done.Status)
	require.Equal(t, task.EndCompleted, done.EndReason)
	require.True(t, done.AvailableAt.Equal(t0.Add(60*time.Minute)))

	v = h.status(t, "u1", "dig")
	require.Equal(t, task.StateOnCooldown, v.State)
	require.Equal(t, 30, v.Remaining.Minutes)

	_, err = h.svc.Start(ctx, start("u1", "dig"))
	var cooling *task.OnCooldownError
	require.ErrorAs(t, err, &cooling)
	require.True(t, cooling.AvailableAt.Equal(t0.Add(60*time.Minute)))

	require.Eventually(t, func() bool { return h.auditor.count(task.AuditDMSent) == 1 }, wait, tick)
	require.Equal(t, []task.NoticeKind{task.NoticeCompleted}, h.notifier.directKinds())

	h.clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return len(h.notifier.directKinds()) == 2 }, wait, tick)
	require.Equal(t, task.NoticeCooldownComplete, h.notifier.lastDirect().Kind)
	require.Eventually(t, func() bool { return h.auditor.count(task.AuditCooldownComplete) == 1 }, wait, tick)

	require.Equal(t, task.StateAvailable, h.status(t, "u1", "dig").State)
	again, err := h.svc.Start(ctx, start("u1", "dig"))
	require.NoError(t, err)
	require.NotEqual(t, exec.ID, again.ID)
	require.Equal(t, 2, h.auditor.count(task.AuditStarted))
}

func TestCooldownShorterThanDurationEndsWithRun(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "t", Name: "T", DurationMinutes: 30, CooldownMinutes: 10})

	exec, err := h.svc.Start(context.Background(), start("u1", "t"))
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	require.Eventually(t, func() bool { return h.record(t, exec.ID).Status == task.StatusCompleted }, wait, tick)
	require.Equal(t, task.StateAvailable, h.status(t, "u1", "t").State)
	require.False(t, h.sched.Has(cooldownKey(exec.ID)))
}

func TestGlobalTaskIsSharedWithinGuild(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "boss", Name: "Boss", DurationMinutes: 10, CooldownMinutes: 20, Global: true})
	ctx := context.Background()

	exec, err := h.svc.Start(ctx, start("u1", "boss"))
	require.NoError(t, err)
	require.Equal(t, "GLOBAL:g1", exec.ScopeKey)

	_, err = h.svc.Start(ctx, start("u2", "boss"))
	require.ErrorIs(t, err, task.ErrAlreadyRunning)

	other, err := h.svc.Start(ctx, StartRequest{ActorID: "u2", TaskID: "boss", GuildID: "g2", ChannelID: "c9"})
	require.NoError(t, err)
	require.Equal(t, "GLOBAL:g2", other.ScopeKey)

	require.Equal(t, task.StateRunning, h.status(t, "u3", "boss").State)

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool {
		return h.sched.Has(cooldownKey(exec.ID)) && h.sched.Has(cooldownKey(other.ID))
	}, wait, tick)

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return h.notifier.broadcastCount() == 2 }, wait, tick)
	h.notifier.mu.Lock()
	channels := []string{h.notifier.broadcasts[0].ChannelID, h.notifier.broadcasts[1].ChannelID}
	h.notifier.mu.Unlock()
	require.ElementsMatch(t, []string{"c1", "c9"}, channels)
	for _, k := range h.notifier.directKinds() {
		require.NotEqual(t, task.NoticeCooldownComplete, k)
	}
}

func TestInstantTaskConsumesUsesBeforeCooldown(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "pray", Name: "Pray", CooldownMinutes: 60, MaxUses: 3})
	ctx := context.Background()

	first, err := h.svc.Start(ctx, start("u1", "pray"))
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, first.Status)
	require.Nil(t, first.AvailableAt)

	v := h.status(t, "u1", "pray")
	require.Equal(t, task.StateAvailable, v.State)
	require.Equal(t, 2, v.RemainingUses)

	h.clock.Advance(time.Minute)
	second, err := h.svc.Start(ctx, start("u1", "pray"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.CurrentUses)

	h.clock.Advance(time.Minute)
	third, err := h.svc.Start(ctx, start("u1", "pray"))
	require.NoError(t, err)
	require.Equal(t, 3, third.CurrentUses)
	require.True(t, third.AvailableAt.Equal(t0.Add(62*time.Minute)))
	require.True(t, h.sched.Has(cooldownKey(third.ID)))

	_, err = h.svc.Start(ctx, start("u1", "pray"))
	require.ErrorIs(t, err, task.ErrOnCooldown)

	v = h.status(t, "u1", "pray")
	require.Equal(t, task.StateOnCooldown, v.State)
	require.Equal(t, 3, v.CurrentUses)
	require.Equal(t, 1, h.auditor.count(task.AuditStarted))
}

func TestTimedMultiUseCoolsDownAfterLastUse(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "fish", Name: "Fish", DurationMinutes: 10, CooldownMinutes: 30, MaxUses: 2})
	ctx := context.Background()

	exec, err := h.svc.Start(ctx, start("u1", "fish"))
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return h.record(t, exec.ID).Status == task.StatusCompleted }, wait, tick)
	require.Nil(t, h.record(t, exec.ID).AvailableAt)

	v := h.status(t, "u1", "fish")
	require.Equal(t, task.StateAvailable, v.State)
	require.Equal(t, 1, v.RemainingUses)

	again, err := h.svc.Start(ctx, start("u1", "fish"))
	require.NoError(t, err)
	require.Equal(t, exec.ID, again.ID)
	require.Equal(t, 2, again.CurrentUses)

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return h.sched.Has(cooldownKey(exec.ID)) }, wait, tick)
	require.True(t, h.record(t, exec.ID).AvailableAt.Equal(t0.Add(40*time.Minute)))

	v = h.status(t, "u1", "fish")
	require.Equal(t, task.StateOnCooldown, v.State)
	require.Equal(t, 20, v.Remaining.Minutes)
}

func TestRemindersReachTheStartingActor(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "brew", Name: "Brew", DurationMinutes: 30, NotificationIntervalMinutes: 10, Global: true})

	exec, err := h.svc.Start(context.Background(), start("u7", "brew"))
	require.NoError(t, err)
	require.True(t, h.sched.Has(reminderKey(exec.ID, "1")))
	require.True(t, h.sched.Has(reminderKey(exec.ID, "2")))
	require.False(t, h.sched.Has(reminderKey(exec.ID, "3")))

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return len(h.notifier.directKinds()) == 1 }, wait, tick)
	n := h.notifier.lastDirect()
	require.Equal(t, task.NoticeReminder, n.Kind)
	require.Equal(t, "u7", n.ActorID)
	require.Equal(t, 20, n.Remaining.Minutes)
	require.Zero(t, h.auditor.count(task.AuditDMSent))
}

// microStore keeps instants at microsecond precision, as postgres does.
type microStore struct{ *storage.Memory }

func truncated(e *task.Execution) *task.Execution {
	c := e.Clone()
	c.StartedAt = c.StartedAt.Truncate(time.Microsecond)
	c.CreatedAt = c.CreatedAt.Truncate(time.Microsecond)
	for _, p := range []**time.Time{&c.CompletedAt, &c.AvailableAt, &c.ResetAt} {
		if *p != nil {
			*p = task.TimePtr((**p).Truncate(time.Microsecond))
		}
	}
	return c
}

func (m microStore) Save(ctx context.Context, e *task.Execution) error {
	return m.Memory.Save(ctx, truncated(e))
}

func (m microStore) Update(ctx context.Context, e *task.Execution) error {
	return m.Memory.Update(ctx, truncated(e))
}

func TestRemindersFireWhenStoreDropsNanoseconds(t *testing.T) {
	h := newHarnessWith(t, func(m *storage.Memory) task.ExecutionStore { return microStore{m} },
		task.Definition{ID: "brew", Name: "Brew", DurationMinutes: 30, NotificationIntervalMinutes: 10})
	h.clock.Advance(123456789 * time.Nanosecond)

	exec, err := h.svc.Start(context.Background(), start("u1", "brew"))
	require.NoError(t, err)
	require.True(t, exec.StartedAt.Equal(exec.StartedAt.Truncate(time.Microsecond)))
	require.True(t, h.record(t, exec.ID).StartedAt.Equal(exec.StartedAt))

	h.clock.Advance(10 * time.Minute)
	require.Eventually(t, func() bool { return len(h.notifier.directKinds()) == 1 }, wait, tick)
	require.Equal(t, task.NoticeReminder, h.notifier.lastDirect().Kind)
}

func TestStartUnknownTask(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Start(context.Background(), start("u1", "ghost"))
	require.ErrorIs(t, err, task.ErrTaskNotFound)

	_, err = h.svc.CheckStatus(context.Background(), "u1", "ghost", "g1")
	require.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestConcurrentStartsAdmitOne(t *testing.T) {
	h := newHarness(t, task.Definition{ID: "dig", Name: "Dig", DurationMinutes: 30})

	var wg sync.WaitGroup
	var ok, refused atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Start(context.Background(), start("u1", "dig"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, task.ErrAlreadyRunning):
				refused.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, ok.Load())
	require.EqualValues(t, 15, refused.Load())

	all, err := h.store.FindAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Zero(t, h.svc.locks.size())
}
