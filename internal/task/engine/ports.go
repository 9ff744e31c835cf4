package engine

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

import (
	"context"
	"time"

	"taskboard/internal/task"
	"taskboard/internal/task/scheduler"
)

// Notifier delivers notices. Both methods are best-effort; the engine never
// rolls back a transition because of their errors.
type Notifier interface {
	// Direct messages the notice's actor.
	Direct(ctx context.Context, n task.Notice) error
	// Broadcast posts a public, self-expiring notice to the notice's channel.
	Broadcast(ctx context.Context, n task.Notice) error
}

// Auditor records audit events. Errors are logged by the engine and dropped.
type Auditor interface {
	Record(ctx context.Context, ev task.AuditEvent) error
}

// Timers is the subset of the scheduler the engine drives.
type Timers interface {
	ScheduleAt(key string, at time.Time, fn scheduler.Callback) error
	Cancel(key string) bool
	CancelPrefix(prefix string) int
	Has(key string) bool
	RestoreAll(ctx context.Context, pending []scheduler.Pending) error
}
