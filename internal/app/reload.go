package app

import (
	"context"
	"strings"

	"taskboard/internal/config"
	logx "taskboard/pkg/logx"
)

// validateMapped rejects configs the components would refuse on apply.
func validateMapped(_ context.Context, cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err := pollTimeout(cfg)
	return err
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts; only the newest config matters.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, next)
			last = next
		}
	}
}

// apply hot-applies next. Telegram and storage changes need a restart.
func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	sections, fields := config.Summarize(prev, next)
	if config.RequiresRestart(sections) {
		a.log.Warn("telegram or storage config changed; restart required for those changes")
	}
	if prev.Engine.ExternalTimeout != next.Engine.ExternalTimeout ||
		prev.Engine.StaleResetWindow != next.Engine.StaleResetWindow ||
		prev.Engine.ResetOffset != next.Engine.ResetOffset {
		a.log.Warn("engine timings changed; restart required for those changes")
	}

	a.logs.Apply(mapLogConfig(next))
	a.router.Apply(mapRouterConfig(next))
	a.core.Audit.Apply(auditChannels(next))
	a.core.Sched.Apply(mapSchedulerConfig(next))

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}
	a.debug.Reconfigure(ctx, mapDebugConfig(next))
	if err := a.registerSweep(next); err != nil {
		a.log.Warn("sweep not rescheduled", logx.Err(err))
	}

	if next.Boards.Dir != a.core.Catalog.Dir() {
		a.log.Warn("boards.dir changed; restart required", logx.String("dir", next.Boards.Dir))
	}
	if n, err := a.core.Catalog.Reload(ctx); err != nil {
		a.log.Warn("boards reload failed; keeping previous", logx.Err(err))
	} else {
		a.log.Debug("boards reloaded", logx.Int("boards", n))
	}

	if len(sections) > 0 {
		a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
	} else {
		a.log.Info("config reloaded (no changes)")
	}
}
