package config

import (
	"reflect"

	logx "taskboard/pkg/logx"
)

// Summarize lists the top-level sections that differ between two configs,
// plus a few safe fields for the reload log line. Secrets are never included.
func Summarize(prev, next *Config) ([]string, []logx.Field) {
	if prev == nil {
		prev = &Config{}
	}
	if next == nil {
		next = &Config{}
	}

	var changed []string
	var fields []logx.Field

	tp, tn := prev.Telegram, next.Telegram
	if tp.PollTimeout != tn.PollTimeout || tp.GroupLog != tn.GroupLog ||
		!reflect.DeepEqual(tp.OwnerUserIDs, tn.OwnerUserIDs) || (tp.Token != tn.Token) {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Int("telegram.owner_count", len(tn.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", tp.Token != tn.Token),
		)
	}
	if !reflect.DeepEqual(prev.Logging, next.Logging) {
		changed = append(changed, "logging")
		fields = append(fields, logx.String("logging.level", next.Logging.Level))
	}
	if prev.Storage.Driver != next.Storage.Driver || prev.Storage.Path != next.Storage.Path ||
		prev.Storage.DSN != next.Storage.DSN || prev.Storage.BusyTimeout != next.Storage.BusyTimeout ||
		prev.Storage.MaxConns != next.Storage.MaxConns {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", next.Storage.Driver))
	}
	if prev.Engine != next.Engine {
		changed = append(changed, "engine")
		fields = append(fields, logx.String("engine.sweep", next.Engine.Sweep))
	}
	if prev.Notifier != next.Notifier {
		changed = append(changed, "notifier")
		fields = append(fields, logx.Int("notifier.rate_per_sec", next.Notifier.RatePerSec))
	}
	if prev.Audit != next.Audit {
		changed = append(changed, "audit")
	}
	if prev.Boards != next.Boards {
		changed = append(changed, "boards")
		fields = append(fields, logx.String("boards.dir", next.Boards.Dir))
	}
	if prev.Debug != next.Debug {
		changed = append(changed, "debug")
		fields = append(fields, logx.Bool("debug.enabled", next.Debug.Enabled))
	}
	return changed, fields
}

// RequiresRestart reports whether a change touches settings that are only
// read at startup.
func RequiresRestart(changed []string) bool {
	for _, s := range changed {
		if s == "telegram" || s == "storage" {
			return true
		}
	}
	return false
}
