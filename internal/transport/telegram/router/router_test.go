package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"taskboard/internal/boards"
	"taskboard/internal/storage"
	"taskboard/internal/task"
	"taskboard/internal/task/engine"
	"taskboard/internal/task/scheduler"
	"taskboard/internal/transport"
	logx "taskboard/pkg/logx"
)

const (
	groupChat = int64(-1001)
	owner     = int64(1)
	player    = int64(42)
)

type replySink struct {
	mu    sync.Mutex
	texts []string
}

func (s *replySink) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	return transport.MessageRef{MessageID: len(s.texts)}, nil
}

func (s *replySink) DeleteMessage(context.Context, transport.MessageRef) error { return nil }

func (s *replySink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

type fixture struct {
	router *Router
	sink   *replySink
	clock  clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	sched := scheduler.New(scheduler.Config{}, clock, logx.Nop(), nil)
	t.Cleanup(func() { sched.Stop(context.Background()) })

	board := boards.Board{
		ID:      "raids",
		GuildID: "-1001",
		Title:   "Raids",
		Tasks: []task.Definition{
			{ID: "dig", BoardID: "raids", Name: "Dig", DurationMinutes: 30, CooldownMinutes: 60},
			{ID: "boss", BoardID: "raids", Name: "Boss Raid", DurationMinutes: 10, CooldownMinutes: 120, Global: true},
		},
	}
	cat, err := boards.New(board)
	require.NoError(t, err)

	eng := engine.New(engine.Config{}, engine.Deps{
		Definitions: cat,
		Executions:  storage.NewMemory(),
		Timers:      sched,
		Clock:       clock,
		Log:         logx.Nop(),
	})

	sink := &replySink{}
	r := New(Config{Owners: []int64{owner}, Workers: 1}, sink, logx.Nop())
	r.Register(TaskCommands(eng, cat)...)
	return &fixture{router: r, sink: sink, clock: clock}
}

// say runs one message synchronously and returns the last reply.
func (f *fixture) say(t *testing.T, from int64, text string) string {
	t.Helper()
	ctx := context.Background()
	msg := &transport.Message{ChatID: groupChat, FromID: from, Text: text}
	req, h, ok := f.router.prepare(ctx, msg)
	if ok {
		require.NoError(t, h(ctx, req))
	}
	return f.sink.last()
}

func TestStartThenRefuseWhileRunning(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, "▶️ Dig started, ends in 30m.", f.say(t, player, "/start_task dig"))

	f.clock.Advance(10 * time.Minute)
	require.Equal(t, "⏳ Dig is already running, 20m left.", f.say(t, player, "/start_task Dig"))
	require.Equal(t, "Dig: running, 20m left", f.say(t, player, "/status dig"))
	require.Equal(t, "Dig: available", f.say(t, 7, "/status dig"))
}

func TestQuotedTaskNameAndBotSuffix(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, "▶️ Boss Raid started, ends in 10m.", f.say(t, player, `/start_task@taskboard_bot "boss raid"`))
	// Global tasks are shared by the whole chat.
	require.Equal(t, "⏳ Boss Raid is already running, 10m left.", f.say(t, 7, "/start_task Boss Raid"))
}

func TestUnknownTaskAndCommand(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, `Task "mine" not found here. Try /tasks`, f.say(t, player, "/start_task mine"))
	require.Equal(t, "Usage: /start_task <task>", f.say(t, player, "/start_task"))
	require.Equal(t, "Unknown command. Try /help", f.say(t, player, "/dance"))

	before := len(f.sink.texts)
	f.say(t, player, "just chatting")
	require.Len(t, f.sink.texts, before)
}

func TestResetIsOwnerOnly(t *testing.T) {
	f := newFixture(t)
	f.say(t, player, "/start_task dig")

	require.Equal(t, "Unauthorized.", f.say(t, player, "/reset 42 dig"))
	require.Equal(t, "♻️ Dig reset for 42.", f.say(t, owner, "/reset 42 dig"))
	require.Equal(t, "▶️ Dig started, ends in 30m.", f.say(t, player, "/start_task dig"))

	require.Equal(t, `"bob" is not a user id.`, f.say(t, owner, "/reset bob dig"))
	require.Contains(t, f.say(t, owner, "/reset 7 dig"), "Not reset:")
}

func TestResetAllReportsCounts(t *testing.T) {
	f := newFixture(t)
	f.say(t, player, "/start_task dig")
	f.say(t, 7, "/start_task dig")

	require.Equal(t, "♻️ Reset 2 executions (2 users, 1 tasks).", f.say(t, owner, "/resetall"))
}

func TestTasksListsBoard(t *testing.T) {
	f := newFixture(t)
	f.say(t, player, "/start_task dig")

	out := f.say(t, player, "/tasks")
	require.Contains(t, out, "📋 Raids")
	require.Contains(t, out, "• Dig: running, 30m left")
	require.Contains(t, out, "• Boss Raid: available")
}

func TestHelpHidesOwnerCommands(t *testing.T) {
	f := newFixture(t)

	require.NotContains(t, f.say(t, player, "/help"), "/resetall")
	require.Contains(t, f.say(t, owner, "/h"), "/resetall")
}

func TestDispatchLoopRunsQueuedCommands(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 1)
	done := make(chan error, 1)
	go func() { done <- f.router.DispatchLoop(ctx, updates) }()

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: groupChat, FromID: player, Text: "/status dig"}}
	require.Eventually(t, func() bool { return f.sink.last() == "Dig: available" }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"/a", "b c", "d"}, tokenize(`/a "b c" d`))
	require.Equal(t, []string{"/a", ""}, tokenize(`/a ''`))
	require.Equal(t, []string{"x y"}, tokenize(`x\ y`))
	require.Nil(t, tokenize("   "))
}

func TestSanitizeCommand(t *testing.T) {
	t.Parallel()

	require.Equal(t, "start_task", sanitizeCommand("Start-Task"))
	require.Equal(t, "cmd_1up", sanitizeCommand("1up"))
	require.Equal(t, "", sanitizeCommand("!!"))
}
