package engine

import (
	"context"
	"time"

	"taskboard/internal/eventbus"
	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ExternalTimeout)
}

// arm schedules a timer; a failure only costs the timer, the sweep recovers it.
func (s *Service) arm(key string, at time.Time, fn func(ctx context.Context, key string) error) {
	if err := s.timers.ScheduleAt(key, at, fn); err != nil {
		s.log.Warn("timer not armed", logx.String("key", key), logx.Time("at", at), logx.Err(err))
	}
}

// armReminders schedules the progress reminders of a running execution.
// They target the actor who triggered this run, even for global tasks.
func (s *Service) armReminders(def task.Definition, exec *task.Execution) {
	s.timers.CancelPrefix(reminderKeyPrefix(exec.ID))
	now := s.now()
	for _, r := range task.ReminderOffsets(def) {
		at := exec.StartedAt.Add(r.Offset)
		if !at.After(now) {
			continue
		}
		s.arm(reminderKey(exec.ID, r.Suffix), at, s.reminderFired(exec.ID, exec.ActorID, exec.StartedAt))
	}
}

func (s *Service) completionFired(ctx context.Context, key string) error {
	return s.Complete(ctx, key)
}

func (s *Service) cooldownFired(ctx context.Context, key string) error {
	return s.NotifyCooldownComplete(ctx, key)
}

// reminderFired returns the callback of one reminder. It stays silent unless
// the same run (same start instant) is still going.
func (s *Service) reminderFired(id, actorID string, startedAt time.Time) func(ctx context.Context, key string) error {
	return func(ctx context.Context, key string) error {
		exec, err := s.find(ctx, id)
		if err != nil {
			return err
		}
		if exec == nil || exec.Status != task.StatusRunning || !exec.StartedAt.Equal(startedAt) {
			s.log.Debug("reminder skipped", logx.String("key", key))
			return nil
		}
		def, err := s.definition(ctx, exec.TaskID)
		if err != nil {
			return err
		}
		remaining := task.CompletionTime(def, exec.StartedAt).Sub(s.now())
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskReminder, Data: map[string]any{"key": key, "actor_id": actorID}})
		n := s.notice(task.NoticeReminder, def, exec)
		n.ActorID = actorID
		n.Remaining = task.NewRemaining(remaining)
		s.direct(ctx, n, def, exec, false)
		return nil
	}
}

func (s *Service) find(ctx context.Context, id string) (*task.Execution, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.execs.FindByID(ctx, id)
}

func (s *Service) notice(kind task.NoticeKind, def task.Definition, exec *task.Execution) task.Notice {
	n := task.Notice{
		Kind:        kind,
		ActorID:     exec.ActorID,
		GuildID:     exec.GuildID,
		ChannelID:   exec.ChannelID,
		ExecutionID: exec.ID,
		Task:        def,
	}
	if exec.AvailableAt != nil {
		n.AvailableAt = task.TimePtr(*exec.AvailableAt)
		n.Remaining = task.NewRemaining(exec.AvailableAt.Sub(s.now()))
	}
	return n
}

func (s *Service) auditEvent(kind task.AuditKind, def task.Definition, exec *task.Execution, at time.Time) task.AuditEvent {
	return task.AuditEvent{
		Kind:        kind,
		At:          at,
		ExecutionID: exec.ID,
		TaskID:      def.ID,
		TaskName:    def.Name,
		ScopeKey:    exec.ScopeKey,
		ActorID:     exec.ActorID,
		GuildID:     exec.GuildID,
		ChannelID:   exec.ChannelID,
	}
}

func (s *Service) audit(ctx context.Context, ev task.AuditEvent) {
	if s.auditor == nil {
		return
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.auditor.Record(ctx, ev); err != nil {
		s.log.Warn("audit failed", logx.String("kind", string(ev.Kind)), logx.Execution(ev.ExecutionID), logx.Err(err))
	}
}

// direct sends a DM and, when recordOutcome is set, audits whether it
// reached the actor.
func (s *Service) direct(ctx context.Context, n task.Notice, def task.Definition, exec *task.Execution, recordOutcome bool) {
	if s.notifier == nil {
		return
	}
	nctx, cancel := s.bounded(ctx)
	err := s.notifier.Direct(nctx, n)
	cancel()
	if err != nil {
		s.log.Warn("direct notice failed", logx.String("kind", string(n.Kind)), logx.Actor(n.ActorID), logx.Execution(n.ExecutionID), logx.Err(err))
	}
	if !recordOutcome {
		return
	}
	ev := s.auditEvent(task.AuditDMSent, def, exec, s.now())
	ev.ActorID = n.ActorID
	ok := err == nil
	ev.Success = &ok
	ev.Detail = string(n.Kind)
	if err != nil {
		ev.Detail += ": " + err.Error()
	}
	s.audit(ctx, ev)
}

func (s *Service) broadcast(ctx context.Context, n task.Notice) {
	if s.notifier == nil {
		return
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.notifier.Broadcast(ctx, n); err != nil {
		s.log.Warn("broadcast failed", logx.String("channel_id", n.ChannelID), logx.Execution(n.ExecutionID), logx.Err(err))
	}
}
