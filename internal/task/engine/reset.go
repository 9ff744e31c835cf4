package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.trai.ch/zerr"

	"taskboard/internal/eventbus"
	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

// Reset force-ends the running or cooling-down session of the request's
// scope. Failures are reported in the result, never as an error.
func (s *Service) Reset(ctx context.Context, req ResetRequest) ResetResult {
	def, err := s.definition(ctx, req.TaskID)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			return ResetResult{Message: fmt.Sprintf("task %s not found", req.TaskID)}
		}
		s.log.Error("reset failed", logx.Task(req.TaskID), logx.Err(err))
		return ResetResult{Message: "could not load task"}
	}
	scope := task.ScopeKey(def, req.ActorID, req.GuildID)

	unlock := s.locks.Lock(lockKey(scope, def.ID))
	now := s.now()
	exec, err := s.resettable(ctx, scope, def.ID, now)
	if err != nil {
		unlock()
		s.log.Error("reset failed", logx.Task(def.ID), logx.Scope(scope), logx.Err(err))
		return ResetResult{Message: "could not load execution"}
	}
	if exec == nil {
		unlock()
		return ResetResult{Message: fmt.Sprintf("%s is not running or cooling down", def.Name)}
	}
	if err := s.resetLocked(ctx, exec, now); err != nil {
		unlock()
		s.log.Error("reset failed", logx.Execution(exec.ID), logx.Err(err))
		return ResetResult{Message: "could not save reset"}
	}
	unlock()

	s.afterReset(ctx, def, exec, req.ActorID, req.ResetBy, now)
	return ResetResult{
		Success:   true,
		Message:   fmt.Sprintf("%s reset; it can be started again", def.Name),
		Execution: exec.Clone(),
	}
}

// resettable returns the running record of a scope, or else its latest
// record while that one is inside cooldown.
func (s *Service) resettable(ctx context.Context, scope, taskID string, now time.Time) (*task.Execution, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	active, err := s.execs.FindActiveByScopeAndTask(ctx, scope, taskID)
	if err != nil || active != nil {
		return active, err
	}
	last, err := s.execs.FindLastByScopeAndTask(ctx, scope, taskID)
	if err != nil || !last.InCooldown(now) {
		return nil, err
	}
	return last, nil
}

// resetLocked disarms every timer of exec, then marks it reset. Disarming
// first keeps a timer from landing between the two steps.
func (s *Service) resetLocked(ctx context.Context, exec *task.Execution, now time.Time) error {
	s.timers.Cancel(completionKey(exec.ID))
	s.timers.Cancel(cooldownKey(exec.ID))
	s.timers.CancelPrefix(reminderKeyPrefix(exec.ID))

	exec.Status = task.StatusCompleted
	exec.EndReason = task.EndReset
	exec.CompletedAt = task.TimePtr(now)
	exec.AvailableAt = task.TimePtr(now.Add(-s.cfg.ResetOffset))
	exec.ResetAt = task.TimePtr(now)
	return s.persist(ctx, exec, false)
}

func (s *Service) afterReset(ctx context.Context, def task.Definition, exec *task.Execution, actorID, by string, now time.Time) {
	s.log.Info("task reset", logx.Execution(exec.ID), logx.Task(def.ID), logx.Scope(exec.ScopeKey), logx.String("by", by))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskReset, Data: exec.Clone()})

	ev := s.auditEvent(task.AuditReset, def, exec, now)
	ev.By = by
	s.audit(ctx, ev)

	n := s.notice(task.NoticeReset, def, exec)
	n.ResetBy = by
	if actorID != "" {
		n.ActorID = actorID
	}
	s.direct(ctx, n, def, exec, false)
}

// ResetAll force-resets every running or cooling-down execution.
func (s *Service) ResetAll(ctx context.Context, by string) (ResetAllResult, error) {
	lctx, cancel := s.bounded(ctx)
	all, err := s.execs.FindAll(lctx)
	cancel()
	if err != nil {
		return ResetAllResult{}, zerr.Wrap(err, "list executions")
	}

	actors := map[string]struct{}{}
	tasks := map[string]struct{}{}
	var res ResetAllResult
	for _, candidate := range all {
		if !s.resetCandidate(candidate, s.now()) {
			continue
		}
		exec, def, ok := s.resetOne(ctx, candidate.ID)
		if !ok {
			continue
		}
		res.CancelledExecutions++
		actors[exec.ActorID] = struct{}{}
		tasks[exec.TaskID] = struct{}{}
		s.afterReset(ctx, def, exec, exec.ActorID, by, s.now())
	}
	res.AffectedActors = len(actors)
	res.TasksReset = len(tasks)

	s.log.Info("all tasks reset", logx.String("by", by), logx.Int("executions", res.CancelledExecutions), logx.Int("actors", res.AffectedActors), logx.Int("tasks", res.TasksReset))
	s.audit(ctx, task.AuditEvent{
		Kind:   task.AuditResetAll,
		At:     s.now(),
		By:     by,
		Detail: fmt.Sprintf("executions=%d actors=%d tasks=%d", res.CancelledExecutions, res.AffectedActors, res.TasksReset),
	})
	return res, nil
}

func (s *Service) resetCandidate(exec *task.Execution, now time.Time) bool {
	return exec != nil && (exec.Status == task.StatusRunning || exec.InCooldown(now))
}

// resetOne re-checks a candidate under its lock and resets it.
func (s *Service) resetOne(ctx context.Context, id string) (*task.Execution, task.Definition, bool) {
	exec, unlock, err := s.lockExecution(ctx, id)
	if err != nil {
		s.log.Warn("reset skipped", logx.Execution(id), logx.Err(err))
		return nil, task.Definition{}, false
	}
	if exec == nil {
		return nil, task.Definition{}, false
	}
	defer unlock()

	now := s.now()
	if !s.resetCandidate(exec, now) {
		return nil, task.Definition{}, false
	}
	def, err := s.definition(ctx, exec.TaskID)
	if err != nil {
		def = task.Definition{ID: exec.TaskID, Name: exec.TaskID}
	}
	if err := s.resetLocked(ctx, exec, now); err != nil {
		s.log.Warn("reset skipped", logx.Execution(id), logx.Err(err))
		return nil, task.Definition{}, false
	}
	return exec, def, true
}
