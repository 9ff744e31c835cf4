// Package app wires the configuration, the engine and the Telegram surface
// into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskboard/internal/config"
	"taskboard/internal/eventbus"
	"taskboard/internal/notifier"
	"taskboard/internal/observability/debughttp"
	rtsup "taskboard/internal/runtime/supervisor"
	"taskboard/internal/transport"
	tgadapter "taskboard/internal/transport/telegram/adapter"
	"taskboard/internal/transport/telegram/router"
	logx "taskboard/pkg/logx"
)

const sweepJob = "engine.sweep"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter *tgadapter.Adapter
	notif   *notifier.Service
	core    *Core
	router  *router.Router
	debug   *debughttp.Server

	updates chan transport.Update
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pt, err := pollTimeout(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := tgadapter.New(tgadapter.Config{Token: cfg.Telegram.Token, PollTimeout: pt}, logx.NewConsole("INFO"))
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLogConfig(cfg), ad)
	log := root.With(logx.String("comp", "app"))
	bus := eventbus.New()

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, ad, nil, nil, root.With(logx.String("comp", "notifier")), bus)

	core, err := OpenCore(ctx, cfg, root, bus, notif)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	notif.SetExpirer(core.Sched)

	r := router.New(mapRouterConfig(cfg), ad, root)
	r.Register(router.TaskCommands(core.Engine, core.Catalog)...)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		adapter: ad,
		notif:   notif,
		core:    core,
		router:  r,
		updates: make(chan transport.Update, 256),
	}
	a.debug = debughttp.New(mapDebugConfig(cfg), a.health, root)
	return a, nil
}

func (a *App) health(context.Context) error {
	if a.sup == nil {
		return errors.New("not started")
	}
	if err := a.sup.Err(); err != nil {
		return err
	}
	if a.sup.Context().Err() != nil {
		return errors.New("stopping")
	}
	return nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start restores timers, then begins serving. Restore finishes before the
// first command is read.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateMapped)

	a.core.Sched.Start(run)
	a.notif.Start(run)
	a.debug.Start(run)

	if err := a.core.Engine.Restore(run); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := a.registerSweep(a.cfgm.Get()); err != nil {
		return err
	}

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.router.PublishMenu(mctx, a.adapter); err != nil {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	notifyReady(a.log)
	a.log.Info("app started")
	return nil
}

func (a *App) registerSweep(cfg *config.Config) error {
	spec := sweepSpec(cfg)
	if spec == "" {
		a.core.Sched.RemoveJob(sweepJob)
		return nil
	}
	return a.core.Sched.Every(sweepJob, spec, func(ctx context.Context) error {
		n, err := a.core.Engine.Sweep(ctx)
		if n > 0 {
			a.log.Info("sweep repaired executions", logx.Int("count", n))
		}
		return err
	})
}

// Stop shuts components down in order; each step is bounded so one stuck
// component cannot stall the rest.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	notifyStopping(a.log)
	a.log.Info("stopping")
	a.sup.Cancel()

	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "debug", time.Second, func(c context.Context) error { return a.debug.Stop(c) })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.core.Sched.Stop(c); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.core.Store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
