package storage

import (
	"context"
	"strings"

	"go.trai.ch/zerr"

	logx "taskboard/pkg/logx"
)

// Open initializes the configured store.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(ctx, cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, zerr.With(zerr.New("unknown storage driver"), "driver", driver)
	}
}
