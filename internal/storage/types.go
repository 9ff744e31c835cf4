package storage

import (
	"context"
	"errors"
	"time"

	"taskboard/internal/task"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "" or "memory": in-process maps
//   - "file": snapshot + journal under Path
//   - "sqlite": SQLite database file at Path
//   - "postgres": server database at DSN
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	MaxConns    int32         // postgres only; 0 means pgxpool default
}

// Store is the persistence API used by the engine and the auditor.
type Store interface {
	task.ExecutionStore

	AppendAudit(ctx context.Context, e task.AuditEvent) error
	// ListAudit returns up to limit most recent entries, newest first.
	ListAudit(ctx context.Context, limit int) ([]task.AuditEvent, error)
	Close() error
}

// latestOf picks the record a (scope, task) lookup should return: the most
// recently started, ties broken by creation time.
func latestOf(a, b *task.Execution) *task.Execution {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.StartedAt.After(a.StartedAt) {
		return b
	}
	if b.StartedAt.Equal(a.StartedAt) && b.CreatedAt.After(a.CreatedAt) {
		return b
	}
	return a
}
