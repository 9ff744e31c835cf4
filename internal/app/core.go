package app

import (
	"context"

	"github.com/jonboulle/clockwork"
	"go.trai.ch/zerr"

	"taskboard/internal/audit"
	"taskboard/internal/boards"
	"taskboard/internal/config"
	"taskboard/internal/eventbus"
	"taskboard/internal/notifier"
	"taskboard/internal/storage"
	"taskboard/internal/task/engine"
	"taskboard/internal/task/scheduler"
	logx "taskboard/pkg/logx"
)

// Core is the engine with its store, boards and timers, without any chat
// transport. The CLI uses it directly for offline commands.
type Core struct {
	Store   storage.Store
	Catalog *boards.Catalog
	Sched   *scheduler.Service
	Audit   *audit.Recorder
	Engine  *engine.Service
	Bus     eventbus.Bus
}

// OpenCore opens the store and boards named by cfg and builds the engine.
// notif may be nil (offline use); the engine then sends nothing.
func OpenCore(ctx context.Context, cfg *config.Config, log logx.Logger, bus eventbus.Bus, notif *notifier.Service) (*Core, error) {
	if bus == nil {
		bus = eventbus.Nop
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}

	cat, err := boards.LoadDir(ctx, cfg.Boards.Dir)
	if err != nil {
		return nil, zerr.Wrap(err, "load boards")
	}
	store, err := storage.Open(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	sched := scheduler.New(mapSchedulerConfig(cfg), clock, log.With(logx.String("comp", "scheduler")), bus)

	c := &Core{Store: store, Catalog: cat, Sched: sched, Bus: bus}
	deps := engine.Deps{
		Definitions: cat,
		Executions:  store,
		Timers:      sched,
		Clock:       clock,
		Bus:         bus,
		Log:         log.With(logx.String("comp", "engine")),
	}
	if notif != nil {
		c.Audit = audit.New(store, notif, bus, log, auditChannels(cfg))
		deps.Notifier = notif
	} else {
		c.Audit = audit.New(store, nil, bus, log, nil)
	}
	deps.Auditor = c.Audit
	c.Engine = engine.New(ec, deps)
	return c, nil
}

// Close stops the timers and closes the store.
func (c *Core) Close(ctx context.Context) error {
	c.Sched.Stop(ctx)
	return c.Store.Close()
}
