// Package audit fans execution audit events out to the store, the event bus
// and optional per-kind Telegram channels.
package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"taskboard/internal/eventbus"
	"taskboard/internal/task"
	"taskboard/internal/transport"
	logx "taskboard/pkg/logx"
)

// Appender is the durable sink, normally the storage driver.
type Appender interface {
	AppendAudit(ctx context.Context, ev task.AuditEvent) error
}

// Poster queues a channel post, normally the notifier.
type Poster interface {
	Enqueue(ctx context.Context, kind string, to transport.ChatTarget, text string) error
}

// Channels maps an audit kind to the chat it is mirrored to. Missing kinds
// are not posted.
type Channels map[task.AuditKind]int64

type Recorder struct {
	store  Appender
	poster Poster
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.RWMutex
	channels Channels
}

func New(store Appender, poster Poster, bus eventbus.Bus, log logx.Logger, channels Channels) *Recorder {
	if bus == nil {
		bus = eventbus.Nop
	}
	r := &Recorder{store: store, poster: poster, bus: bus, log: log.With(logx.String("comp", "audit"))}
	r.Apply(channels)
	return r
}

// Apply replaces the channel routing.
func (r *Recorder) Apply(channels Channels) {
	cp := make(Channels, len(channels))
	for k, v := range channels {
		if v != 0 {
			cp[k] = v
		}
	}
	r.mu.Lock()
	r.channels = cp
	r.mu.Unlock()
}

// Record stores the event, publishes it and mirrors it to its channel. Only
// a store failure is returned; a failed post is logged.
func (r *Recorder) Record(ctx context.Context, ev task.AuditEvent) error {
	var storeErr error
	if r.store != nil {
		if storeErr = r.store.AppendAudit(ctx, ev); storeErr != nil {
			r.log.Warn("audit append failed", logx.String("kind", string(ev.Kind)), logx.Execution(ev.ExecutionID), logx.Err(storeErr))
		}
	}

	r.bus.Publish(eventbus.Event{Type: eventbus.AuditPrefix + string(ev.Kind), Time: ev.At, Data: ev})

	r.mu.RLock()
	chatID := r.channels[ev.Kind]
	r.mu.RUnlock()
	if chatID != 0 && r.poster != nil {
		if err := r.poster.Enqueue(ctx, "audit."+string(ev.Kind), transport.ChatTarget{ChatID: chatID}, Format(ev)); err != nil {
			r.log.Warn("audit post failed", logx.String("kind", string(ev.Kind)), logx.Int64("chat_id", chatID), logx.Err(err))
		}
	}
	return storeErr
}

// Format renders one event as a single channel line.
func Format(ev task.AuditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", ev.At.UTC().Format("2006-01-02 15:04:05"), ev.Kind)
	if ev.TaskName != "" {
		fmt.Fprintf(&b, " task=%q", ev.TaskName)
	} else if ev.TaskID != "" {
		fmt.Fprintf(&b, " task=%s", ev.TaskID)
	}
	if ev.ActorID != "" {
		fmt.Fprintf(&b, " actor=%s", ev.ActorID)
	}
	if task.IsGlobalScope(ev.ScopeKey) {
		fmt.Fprintf(&b, " scope=%s", ev.ScopeKey)
	}
	if ev.By != "" {
		fmt.Fprintf(&b, " by=%s", ev.By)
	}
	if ev.Success != nil {
		fmt.Fprintf(&b, " ok=%t", *ev.Success)
	}
	if ev.Detail != "" {
		fmt.Fprintf(&b, " (%s)", ev.Detail)
	}
	return b.String()
}
