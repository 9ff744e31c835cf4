package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"taskboard/internal/eventbus"
	"taskboard/internal/storage"
	"taskboard/internal/task"
	"taskboard/internal/transport"
	logx "taskboard/pkg/logx"
)

type post struct {
	kind string
	to   transport.ChatTarget
	text string
}

type fakePoster struct {
	posts []post
	err   error
}

func (p *fakePoster) Enqueue(_ context.Context, kind string, to transport.ChatTarget, text string) error {
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, post{kind: kind, to: to, text: text})
	return nil
}

type failingStore struct{}

func (failingStore) AppendAudit(context.Context, task.AuditEvent) error {
	return errors.New("disk full")
}

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecordFansOut(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	poster := &fakePoster{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	r := New(store, poster, bus, logx.Nop(), Channels{task.AuditStarted: -300})
	ev := task.AuditEvent{Kind: task.AuditStarted, At: at, ExecutionID: "e1", TaskName: "Dig", ActorID: "7"}
	require.NoError(t, r.Record(context.Background(), ev))

	got, err := store.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "e1", got[0].ExecutionID)

	e := <-events
	require.Equal(t, "audit.started", e.Type)

	require.Len(t, poster.posts, 1)
	require.Equal(t, int64(-300), poster.posts[0].to.ChatID)
	require.Equal(t, `[2026-03-01 12:00:00] started task="Dig" actor=7`, poster.posts[0].text)
}

func TestRecordSkipsUnroutedKinds(t *testing.T) {
	t.Parallel()

	poster := &fakePoster{}
	r := New(nil, poster, nil, logx.Nop(), Channels{task.AuditStarted: -300, task.AuditReset: 0})
	require.NoError(t, r.Record(context.Background(), task.AuditEvent{Kind: task.AuditReset, At: at}))
	require.Empty(t, poster.posts)

	r.Apply(Channels{task.AuditReset: -400})
	require.NoError(t, r.Record(context.Background(), task.AuditEvent{Kind: task.AuditReset, At: at, By: "1"}))
	require.Len(t, poster.posts, 1)
}

func TestSinkFailuresAreIndependent(t *testing.T) {
	t.Parallel()

	poster := &fakePoster{}
	r := New(failingStore{}, poster, nil, logx.Nop(), Channels{task.AuditDMSent: -1})
	ok := false
	err := r.Record(context.Background(), task.AuditEvent{Kind: task.AuditDMSent, At: at, Success: &ok, Detail: "completed"})
	require.Error(t, err)
	require.Len(t, poster.posts, 1)
	require.Contains(t, poster.posts[0].text, "ok=false (completed)")

	r = New(storage.NewMemory(), &fakePoster{err: errors.New("queue full")}, nil, logx.Nop(), Channels{task.AuditDMSent: -1})
	require.NoError(t, r.Record(context.Background(), task.AuditEvent{Kind: task.AuditDMSent, At: at}))
}

func TestFormatGlobalScope(t *testing.T) {
	t.Parallel()

	s := Format(task.AuditEvent{Kind: task.AuditCooldownComplete, At: at, TaskID: "t1", ScopeKey: "GLOBAL:-100"})
	require.Equal(t, "[2026-03-01 12:00:00] cooldown_complete task=t1 scope=GLOBAL:-100", s)
}
