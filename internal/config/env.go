package config

import (
	"github.com/caarlos0/env/v11"
	"go.trai.ch/zerr"
)

// overrides are deployment values that win over the file, e.g. secrets
// injected by systemd's EnvironmentFile.
type overrides struct {
	TelegramToken string  `env:"TELEGRAM_TOKEN"`
	OwnerUserIDs  []int64 `env:"OWNER_USER_IDS" envSeparator:","`
	LogLevel      string  `env:"LOG_LEVEL"`
	StorageDriver string  `env:"STORAGE_DRIVER"`
	StorageDSN    string  `env:"STORAGE_DSN"`
	StoragePath   string  `env:"STORAGE_PATH"`
	BoardsDir     string  `env:"BOARDS_DIR"`
}

const envPrefix = "TASKBOARD_"

// applyEnv overlays TASKBOARD_* variables onto cfg. environ is nil for the
// process environment.
func applyEnv(cfg *Config, environ map[string]string) error {
	var o overrides
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return zerr.Wrap(err, "parse environment")
	}

	if o.TelegramToken != "" {
		cfg.Telegram.Token = o.TelegramToken
	}
	if len(o.OwnerUserIDs) > 0 {
		cfg.Telegram.OwnerUserIDs = o.OwnerUserIDs
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.StorageDriver != "" {
		cfg.Storage.Driver = o.StorageDriver
	}
	if o.StorageDSN != "" {
		cfg.Storage.DSN = o.StorageDSN
	}
	if o.StoragePath != "" {
		cfg.Storage.Path = o.StoragePath
	}
	if o.BoardsDir != "" {
		cfg.Boards.Dir = o.BoardsDir
	}
	return nil
}
