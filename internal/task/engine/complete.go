package engine

import (
	"context"
	"errors"
	"time"

	"go.trai.ch/zerr"

	"taskboard/internal/eventbus"
	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

// Complete ends the running phase of an execution. It is a no-op when the
// record is gone, was reset, or already completed.
func (s *Service) Complete(ctx context.Context, executionID string) error {
	exec, unlock, err := s.lockExecution(ctx, executionID)
	if err != nil || exec == nil {
		return err
	}
	now := s.now()
	log := s.log.With(logx.Execution(exec.ID), logx.Task(exec.TaskID), logx.Scope(exec.ScopeKey))

	if s.isStale(exec, now) {
		unlock()
		s.suppressed(log, "completion", exec)
		return nil
	}
	if exec.Status != task.StatusRunning {
		unlock()
		log.Debug("completion skipped; not running", logx.String("status", string(exec.Status)))
		return nil
	}

	def, err := s.definition(ctx, exec.TaskID)
	if errors.Is(err, task.ErrTaskNotFound) {
		// The board dropped the task; close the session without a cooldown.
		log.Warn("completing execution of unknown task")
		def = task.Definition{ID: exec.TaskID}
	} else if err != nil {
		unlock()
		return err
	}

	exec.Status = task.StatusCompleted
	exec.EndReason = task.EndCompleted
	exec.CompletedAt = task.TimePtr(now)
	if exec.CurrentUses >= def.Uses() {
		exec.AvailableAt = task.TimePtr(task.AvailableTime(def, exec.StartedAt))
	}
	if err := s.persist(ctx, exec, false); err != nil {
		unlock()
		return err
	}
	s.timers.CancelPrefix(reminderKeyPrefix(exec.ID))
	if exec.AvailableAt != nil && exec.AvailableAt.After(now) {
		s.arm(cooldownKey(exec.ID), *exec.AvailableAt, s.cooldownFired)
	}
	unlock()

	log.Info("task completed", logx.Int("uses", exec.CurrentUses), logx.Bool("cooldown", exec.AvailableAt != nil))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskCompleted, Data: exec.Clone()})
	s.audit(ctx, s.auditEvent(task.AuditCompleted, def, exec, now))
	s.direct(ctx, s.notice(task.NoticeCompleted, def, exec), def, exec, true)
	return nil
}

// NotifyCooldownComplete announces that a cooldown ended. key is the timer
// key ("cooldown_<id>"); a bare execution id is accepted too.
func (s *Service) NotifyCooldownComplete(ctx context.Context, key string) error {
	exec, unlock, err := s.lockExecution(ctx, executionIDFromCooldownKey(key))
	if err != nil || exec == nil {
		return err
	}
	now := s.now()
	stale := s.isStale(exec, now)
	unlock()

	log := s.log.With(logx.Execution(exec.ID), logx.Task(exec.TaskID), logx.Scope(exec.ScopeKey))
	if stale {
		s.suppressed(log, "cooldown notice", exec)
		return nil
	}
	if exec.AvailableAt == nil {
		log.Debug("cooldown notice skipped; no cooldown on record")
		return nil
	}

	def, err := s.definition(ctx, exec.TaskID)
	if err != nil {
		return err
	}

	log.Info("cooldown complete")
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskCooldownComplete, Data: exec.Clone()})
	s.audit(ctx, s.auditEvent(task.AuditCooldownComplete, def, exec, now))

	n := s.notice(task.NoticeCooldownComplete, def, exec)
	if def.Global || task.IsGlobalScope(exec.ScopeKey) {
		s.broadcast(ctx, n)
		return nil
	}
	s.direct(ctx, n, def, exec, true)
	return nil
}

// lockExecution loads an execution, takes its (scope, task) lock and reloads
// it under the lock. A nil execution means it no longer exists.
func (s *Service) lockExecution(ctx context.Context, id string) (*task.Execution, func(), error) {
	exec, err := s.find(ctx, id)
	if err != nil {
		return nil, nil, zerr.With(zerr.Wrap(err, "find execution"), "execution_id", id)
	}
	if exec == nil {
		s.log.Debug("execution gone; timer ignored", logx.Execution(id))
		return nil, nil, nil
	}
	unlock := s.locks.Lock(lockKey(exec.ScopeKey, exec.TaskID))
	exec, err = s.find(ctx, id)
	if err != nil || exec == nil {
		unlock()
		if err != nil {
			return nil, nil, zerr.With(zerr.Wrap(err, "find execution"), "execution_id", id)
		}
		return nil, nil, nil
	}
	return exec, unlock, nil
}

// isStale reports whether a timer firing targets a record that was reset.
// Records written before EndReason existed fall back to the timestamp check:
// availableAt already passed and sits within the window of completedAt.
func (s *Service) isStale(exec *task.Execution, now time.Time) bool {
	if exec.EndReason == task.EndReset {
		return true
	}
	if exec.EndReason != task.EndNone || exec.AvailableAt == nil || exec.CompletedAt == nil {
		return false
	}
	if exec.AvailableAt.After(now) {
		return false
	}
	gap := exec.AvailableAt.Sub(*exec.CompletedAt)
	if gap < 0 {
		gap = -gap
	}
	return gap < s.cfg.StaleResetWindow
}

func (s *Service) suppressed(log logx.Logger, what string, exec *task.Execution) {
	log.Info("stale timer suppressed", logx.String("timer", what))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStaleSuppressed, Data: map[string]any{"timer": what, "execution_id": exec.ID}})
}
