package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"taskboard/internal/storage"
	"taskboard/internal/task"
	"taskboard/internal/task/engine/mocks"
	logx "taskboard/pkg/logx"
)

func TestFailedDirectNoticeIsAudited(t *testing.T) {
	ctrl := gomock.NewController(t)
	timers := mocks.NewMockTimers(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	auditor := mocks.NewMockAuditor(ctrl)

	def := task.Definition{ID: "dig", Name: "Dig", DurationMinutes: 30, CooldownMinutes: 60}
	clock := clockwork.NewFakeClockAt(t0)
	svc := New(Config{}, Deps{
		Definitions: defStore{"dig": def},
		Executions:  storage.NewMemory(),
		Timers:      timers,
		Notifier:    notifier,
		Auditor:     auditor,
		Clock:       clock,
		Log:         logx.Nop(),
		NewID:       func() string { return "e1" },
	})

	timers.EXPECT().CancelPrefix("reminder_e1_").Return(0).Times(2)
	timers.EXPECT().ScheduleAt("e1", t0.Add(30*time.Minute), gomock.Any()).Return(nil)
	timers.EXPECT().ScheduleAt("cooldown_e1", t0.Add(60*time.Minute), gomock.Any()).Return(nil)
	notifier.EXPECT().Direct(gomock.Any(), gomock.Any()).Return(errors.New("forbidden: bot was blocked"))

	var got []task.AuditEvent
	auditor.EXPECT().Record(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ev task.AuditEvent) error {
			got = append(got, ev)
			return nil
		}).Times(3)

	ctx := context.Background()
	_, err := svc.Start(ctx, start("u1", "dig"))
	require.NoError(t, err)
	clock.Advance(10 * time.Minute)
	require.NoError(t, svc.Complete(ctx, "e1"))

	require.Len(t, got, 3)
	require.Equal(t, task.AuditStarted, got[0].Kind)
	require.Equal(t, task.AuditCompleted, got[1].Kind)
	dm := got[2]
	require.Equal(t, task.AuditDMSent, dm.Kind)
	require.NotNil(t, dm.Success)
	require.False(t, *dm.Success)
	require.Contains(t, dm.Detail, "bot was blocked")
}

func TestAuditFailureDoesNotFailStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	timers := mocks.NewMockTimers(ctrl)
	auditor := mocks.NewMockAuditor(ctrl)

	svc := New(Config{}, Deps{
		Definitions: defStore{"pray": {ID: "pray", Name: "Pray", CooldownMinutes: 5}},
		Executions:  storage.NewMemory(),
		Timers:      timers,
		Auditor:     auditor,
		Clock:       clockwork.NewFakeClockAt(t0),
		Log:         logx.Nop(),
	})
	timers.EXPECT().ScheduleAt(gomock.Any(), t0.Add(5*time.Minute), gomock.Any()).Return(nil)
	auditor.EXPECT().Record(gomock.Any(), gomock.Any()).Return(errors.New("db down"))

	exec, err := svc.Start(context.Background(), start("u1", "pray"))
	require.NoError(t, err)
	require.Equal(t, task.StatusCompleted, exec.Status)
}
