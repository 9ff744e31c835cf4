package engine

import (
	"context"
	"errors"
	"fmt"

	"go.trai.ch/zerr"

	"taskboard/internal/eventbus"
	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

// Start begins (or reuses) the session of the request's scope. Domain
// refusals come back as task.ErrTaskNotFound, *task.AlreadyRunningError or
// *task.OnCooldownError.
func (s *Service) Start(ctx context.Context, req StartRequest) (*task.Execution, error) {
	def, err := s.definition(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	scope := task.ScopeKey(def, req.ActorID, req.GuildID)

	unlock := s.locks.Lock(lockKey(scope, def.ID))
	now := s.now()

	current, err := s.latest(ctx, scope, def.ID)
	if err != nil {
		unlock()
		return nil, err
	}
	view := task.ResolveStatus(def, current, now)
	switch view.State {
	case task.StateRunning:
		unlock()
		return nil, &task.AlreadyRunningError{TaskID: def.ID, Remaining: view.Remaining}
	case task.StateOnCooldown:
		unlock()
		return nil, &task.OnCooldownError{TaskID: def.ID, Remaining: view.Remaining, AvailableAt: *view.NextAvailableAt}
	}

	var exec *task.Execution
	created := !view.Reusable()
	if created {
		exec = &task.Execution{
			ID:          s.newID(),
			TaskID:      def.ID,
			ScopeKey:    scope,
			GuildID:     req.GuildID,
			CurrentUses: 1,
			CreatedAt:   now,
		}
	} else {
		exec = view.Execution.Clone()
		exec.CurrentUses++
	}
	exec.ActorID = req.ActorID
	if req.ChannelID != "" {
		exec.ChannelID = req.ChannelID
	}
	exec.StartedAt = now
	exec.CompletedAt = nil
	exec.AvailableAt = nil
	exec.EndReason = task.EndNone

	if def.Instant() {
		exec.Status = task.StatusCompleted
		exec.EndReason = task.EndCompleted
		exec.CompletedAt = task.TimePtr(now)
		if exec.CurrentUses >= def.Uses() {
			exec.AvailableAt = task.TimePtr(task.AvailableTime(def, now))
		}
	} else {
		exec.Status = task.StatusRunning
	}

	if err := s.persist(ctx, exec, created); err != nil {
		unlock()
		return nil, err
	}

	if def.Instant() {
		if exec.AvailableAt != nil && def.Cooldown() > 0 {
			s.arm(cooldownKey(exec.ID), *exec.AvailableAt, s.cooldownFired)
		}
	} else {
		s.arm(completionKey(exec.ID), task.CompletionTime(def, now), s.completionFired)
		s.armReminders(def, exec)
	}
	unlock()

	log := s.log.With(logx.Execution(exec.ID), logx.Task(def.ID), logx.Scope(scope))
	log.Info("task started", logx.Actor(req.ActorID), logx.Int("uses", exec.CurrentUses), logx.Bool("new_session", created))
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Data: exec.Clone()})
	if created {
		s.audit(ctx, s.auditEvent(task.AuditStarted, def, exec, now))
	}
	return exec.Clone(), nil
}

// CheckStatus reports the actor's view of a task without writing anything.
func (s *Service) CheckStatus(ctx context.Context, actorID, taskID, guildID string) (task.View, error) {
	def, err := s.definition(ctx, taskID)
	if err != nil {
		return task.View{}, err
	}
	scope := task.ScopeKey(def, actorID, guildID)
	current, err := s.latest(ctx, scope, def.ID)
	if err != nil {
		return task.View{}, err
	}
	return task.ResolveStatus(def, current, s.now()), nil
}

func (s *Service) definition(ctx context.Context, taskID string) (task.Definition, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	def, err := s.defs.FindByID(ctx, taskID)
	if errors.Is(err, task.ErrTaskNotFound) {
		return task.Definition{}, fmt.Errorf("%w: %s", task.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return task.Definition{}, zerr.With(zerr.Wrap(err, "load task definition"), "task_id", taskID)
	}
	return def, nil
}

// latest returns the running record of the scope, or else its newest record.
func (s *Service) latest(ctx context.Context, scope, taskID string) (*task.Execution, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	active, err := s.execs.FindActiveByScopeAndTask(ctx, scope, taskID)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "find active execution"), "scope", scope)
	}
	if active != nil {
		return active, nil
	}
	last, err := s.execs.FindLastByScopeAndTask(ctx, scope, taskID)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "find last execution"), "scope", scope)
	}
	return last, nil
}

func (s *Service) persist(ctx context.Context, exec *task.Execution, created bool) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	var err error
	if created {
		err = s.execs.Save(ctx, exec)
	} else {
		err = s.execs.Update(ctx, exec)
	}
	if err != nil {
		return zerr.With(zerr.Wrap(err, "persist execution"), "execution_id", exec.ID)
	}
	return nil
}
