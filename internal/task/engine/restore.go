package engine

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.trai.ch/zerr"

	"taskboard/internal/task"
	"taskboard/internal/task/scheduler"
	logx "taskboard/pkg/logx"
)

// Restore rebuilds every timer from the store. Call it once at startup,
// before serving requests. Completions that came due while the process was
// down run before Restore returns; cooldown notices already in the past are
// dropped rather than sent late.
func (s *Service) Restore(ctx context.Context) error {
	lctx, cancel := s.bounded(ctx)
	all, err := s.execs.FindAll(lctx)
	cancel()
	if err != nil {
		return zerr.Wrap(err, "list executions")
	}

	now := s.now()
	var pending []scheduler.Pending
	for _, exec := range all {
		pending = append(pending, s.pendingFor(ctx, exec, now)...)
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].At.Before(pending[j].At) })

	s.log.Info("restoring timers", logx.Int("executions", len(all)), logx.Int("timers", len(pending)))
	return s.timers.RestoreAll(ctx, pending)
}

func (s *Service) pendingFor(ctx context.Context, exec *task.Execution, now time.Time) []scheduler.Pending {
	switch {
	case exec.Status == task.StatusRunning:
		def, err := s.definition(ctx, exec.TaskID)
		if err != nil && !errors.Is(err, task.ErrTaskNotFound) {
			s.log.Warn("restore skipped", logx.Execution(exec.ID), logx.Err(err))
			return nil
		}
		if err != nil {
			// Unknown task: complete now.
			def = task.Definition{ID: exec.TaskID}
		}
		out := []scheduler.Pending{{
			Key: completionKey(exec.ID),
			At:  task.CompletionTime(def, exec.StartedAt),
			Fn:  s.completionFired,
		}}
		for _, r := range task.ReminderOffsets(def) {
			at := exec.StartedAt.Add(r.Offset)
			if at.After(now) {
				out = append(out, scheduler.Pending{
					Key: reminderKey(exec.ID, r.Suffix),
					At:  at,
					Fn:  s.reminderFired(exec.ID, exec.ActorID, exec.StartedAt),
				})
			}
		}
		return out

	case exec.EndReason != task.EndReset && exec.InCooldown(now):
		return []scheduler.Pending{{Key: cooldownKey(exec.ID), At: *exec.AvailableAt, Fn: s.cooldownFired}}
	}
	return nil
}

// Sweep repairs lost timers: running executions past their end with no
// completion timer are completed, and cooldowns without a notice timer are
// re-armed. It returns how many executions it touched.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	lctx, cancel := s.bounded(ctx)
	all, err := s.execs.FindAll(lctx)
	cancel()
	if err != nil {
		return 0, zerr.Wrap(err, "list executions")
	}

	now := s.now()
	var errs []error
	touched := 0
	for _, exec := range all {
		switch {
		case exec.Status == task.StatusRunning && !s.timers.Has(completionKey(exec.ID)):
			def, err := s.definition(ctx, exec.TaskID)
			if err != nil && !errors.Is(err, task.ErrTaskNotFound) {
				errs = append(errs, err)
				continue
			}
			if task.CompletionTime(def, exec.StartedAt).After(now) {
				s.arm(completionKey(exec.ID), task.CompletionTime(def, exec.StartedAt), s.completionFired)
			} else if err := s.Complete(ctx, exec.ID); err != nil {
				errs = append(errs, err)
				continue
			}
			touched++

		case exec.EndReason != task.EndReset && exec.InCooldown(now) && !s.timers.Has(cooldownKey(exec.ID)):
			s.arm(cooldownKey(exec.ID), *exec.AvailableAt, s.cooldownFired)
			touched++
		}
	}
	if touched > 0 {
		s.log.Warn("sweep repaired timers", logx.Int("executions", touched))
	}
	return touched, errors.Join(errs...)
}
