package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"taskboard/internal/eventbus"
	logx "taskboard/pkg/logx"
)

var (
	ErrStopped     = errors.New("scheduler stopped")
	ErrKeyRequired = errors.New("key required")
	ErrNilCallback = errors.New("callback required")
)

// Callback runs when an entry fires. ctx is bounded by Config.CallbackTimeout.
type Callback func(ctx context.Context, key string) error

// Pending is one entry handed to RestoreAll.
type Pending struct {
	Key string
	At  time.Time
	Fn  Callback
}

// Entry describes an armed one-shot.
type Entry struct {
	Key string
	At  time.Time
}

type Config struct {
	Timezone        string // IANA name for periodic jobs
	CallbackTimeout time.Duration
}

const defaultCallbackTimeout = 30 * time.Second

type entry struct {
	ver   uint64
	at    time.Time
	fn    Callback
	timer clockwork.Timer
}

type periodicDef struct {
	name    string
	spec    string
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	clock clockwork.Clock

	// mu guards cron state and cfg.
	mu     sync.Mutex
	cfg    Config
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	jobs   []*periodicDef
	ctx    context.Context

	// tmu guards one-shot entries.
	tmu      sync.Mutex
	entries  map[string]*entry
	seq      uint64
	stopped  bool
	inflight sync.WaitGroup

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}
