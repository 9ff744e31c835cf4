package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-process signal. Publish never blocks; a subscriber whose
// buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Event types published by taskboard components.
const (
	TaskStarted          = "task.started"
	TaskCompleted        = "task.completed"
	TaskCooldownComplete = "task.cooldown_complete"
	TaskReset            = "task.reset"
	TaskReminder         = "task.reminder"
	TaskStaleSuppressed  = "task.stale_suppressed"

	TimerFired     = "timer.fired"
	TimerPanicked  = "timer.panicked"
	NotifySent     = "notifier.sent"
	NotifyFailed   = "notifier.failed"
	AuditPrefix    = "audit."
	ConfigReloaded = "config.reloaded"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Nop is a Bus that drops everything. Handy as a default for optional wiring.
var Nop Bus = nopBus{}

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	return ch, func() {}
}

// HasPrefix reports whether e belongs to the dotted namespace prefix.
func HasPrefix(e Event, prefix string) bool { return strings.HasPrefix(e.Type, prefix) }

// New returns an in-memory fan-out bus. It starts no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock, so Unsubscribe (write lock) cannot
	// close a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
