package notifier

import (
	"time"

	"taskboard/internal/task/scheduler"
	"taskboard/internal/transport"
)

// Config controls delivery. Zero values take the defaults below.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	Burst         int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// BroadcastTTL is how long a broadcast stays before it is deleted; <0 keeps it.
	BroadcastTTL time.Duration
}

const defaultBroadcastTTL = time.Hour

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 20
	}
	if c.Burst <= 0 {
		c.Burst = c.RatePerSec
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.BroadcastTTL == 0 {
		c.BroadcastTTL = defaultBroadcastTTL
	}
	return c
}

// Expirer arms the deletion of broadcast messages.
type Expirer interface {
	ScheduleAt(key string, at time.Time, fn scheduler.Callback) error
}

// Event is the payload of notifier bus events.
type Event struct {
	Kind     string    `json:"kind"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

type job struct {
	kind string
	to   transport.ChatTarget
	text string
}
