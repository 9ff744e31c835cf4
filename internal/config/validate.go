package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var knownDrivers = map[string]bool{"": true, "memory": true, "file": true, "sqlite": true, "postgres": true}

// Validate checks everything that can be checked without opening resources.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)
	dur("engine.external_timeout", cfg.Engine.ExternalTimeout)
	dur("engine.stale_reset_window", cfg.Engine.StaleResetWindow)
	dur("engine.reset_offset", cfg.Engine.ResetOffset)
	dur("notifier.retry_base", cfg.Notifier.RetryBase)
	dur("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	dur("notifier.broadcast_ttl", cfg.Notifier.BroadcastTTL)

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if !knownDrivers[driver] {
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if driver == "postgres" && strings.TrimSpace(cfg.Storage.DSN) == "" {
		errs = append(errs, errors.New("storage.dsn: required for postgres"))
	}

	if s := strings.TrimSpace(cfg.Engine.Sweep); s != "" && s != "off" {
		if _, err := cron.ParseStandard(s); err != nil {
			errs = append(errs, fmt.Errorf("engine.sweep: %w", err))
		}
	}
	if tz := strings.TrimSpace(cfg.Engine.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("engine.timezone: %w", err))
		}
	}

	if cfg.Notifier.Workers < 0 || cfg.Notifier.QueueSize < 0 || cfg.Notifier.RetryMax < 0 {
		errs = append(errs, errors.New("notifier: workers, queue_size and retry_max must be >= 0"))
	}
	if strings.TrimSpace(cfg.Boards.Dir) == "" {
		errs = append(errs, errors.New("boards.dir: required"))
	}
	return errors.Join(errs...)
}
