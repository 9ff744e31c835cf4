package app

import (
	"strings"
	"time"

	"taskboard/internal/audit"
	"taskboard/internal/config"
	"taskboard/internal/notifier"
	"taskboard/internal/observability/debughttp"
	"taskboard/internal/storage"
	"taskboard/internal/task"
	"taskboard/internal/task/engine"
	"taskboard/internal/task/scheduler"
	"taskboard/internal/transport/telegram/router"
	logx "taskboard/pkg/logx"
)

const defaultSweep = "@every 1m"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.GroupLog,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
		MaxConns:    sc.MaxConns,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	ec := cfg.Engine
	ext, err := config.ParseDurationField("engine.external_timeout", ec.ExternalTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	window, err := config.ParseDurationField("engine.stale_reset_window", ec.StaleResetWindow)
	if err != nil {
		return engine.Config{}, err
	}
	offset, err := config.ParseDurationField("engine.reset_offset", ec.ResetOffset)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{ExternalTimeout: ext, StaleResetWindow: window, ResetOffset: offset}, nil
}

// sweepSpec returns the cron spec of the reconcile sweep, or "" when off.
func sweepSpec(cfg *config.Config) string {
	switch s := strings.TrimSpace(cfg.Engine.Sweep); s {
	case "":
		return defaultSweep
	case "off":
		return ""
	default:
		return s
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Engine.Timezone)}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	ttl, err := config.ParseDurationField("notifier.broadcast_ttl", nc.BroadcastTTL)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:       nc.Workers,
		QueueSize:     nc.QueueSize,
		RatePerSec:    nc.RatePerSec,
		Burst:         nc.Burst,
		RetryMax:      nc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		BroadcastTTL:  ttl,
	}, nil
}

func auditChannels(cfg *config.Config) audit.Channels {
	ch := cfg.Audit.Channels
	return audit.Channels{
		task.AuditStarted:          ch.Started,
		task.AuditCompleted:        ch.Completed,
		task.AuditCooldownComplete: ch.CooldownComplete,
		task.AuditDMSent:           ch.DMSent,
		task.AuditReset:            ch.Reset,
		task.AuditResetAll:         ch.Reset,
	}
}

func mapRouterConfig(cfg *config.Config) router.Config {
	return router.Config{Owners: cfg.Telegram.OwnerUserIDs}
}

func mapDebugConfig(cfg *config.Config) debughttp.Config {
	d := cfg.Debug
	return debughttp.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}

func pollTimeout(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
}
