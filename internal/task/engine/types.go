package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"taskboard/internal/eventbus"
	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

const (
	defaultExternalTimeout  = 5 * time.Second
	defaultStaleResetWindow = 5 * time.Second
	defaultResetOffset      = time.Second
)

type Config struct {
	// ExternalTimeout bounds every store, notifier and audit call.
	ExternalTimeout time.Duration
	// StaleResetWindow is the tolerance of the timestamp check used for
	// records that carry no end reason.
	StaleResetWindow time.Duration
	// ResetOffset is how far before "now" a reset places availableAt.
	ResetOffset time.Duration
}

func (c Config) withDefaults() Config {
	if c.ExternalTimeout <= 0 {
		c.ExternalTimeout = defaultExternalTimeout
	}
	if c.StaleResetWindow <= 0 {
		c.StaleResetWindow = defaultStaleResetWindow
	}
	if c.ResetOffset <= 0 {
		c.ResetOffset = defaultResetOffset
	}
	return c
}

// Deps are the collaborators of the engine. Definitions, Executions and
// Timers are required.
type Deps struct {
	Definitions task.DefinitionStore
	Executions  task.ExecutionStore
	Timers      Timers
	Notifier    Notifier
	Auditor     Auditor
	Clock       clockwork.Clock
	Bus         eventbus.Bus
	Log         logx.Logger
	NewID       func() string
}

type Service struct {
	cfg      Config
	defs     task.DefinitionStore
	execs    task.ExecutionStore
	timers   Timers
	notifier Notifier
	auditor  Auditor
	clock    clockwork.Clock
	bus      eventbus.Bus
	log      logx.Logger
	newID    func() string

	locks keyedMutex
}

func New(cfg Config, d Deps) *Service {
	s := &Service{
		cfg:      cfg.withDefaults(),
		defs:     d.Definitions,
		execs:    d.Executions,
		timers:   d.Timers,
		notifier: d.Notifier,
		auditor:  d.Auditor,
		clock:    d.Clock,
		bus:      d.Bus,
		log:      d.Log,
		newID:    d.NewID,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.bus == nil {
		s.bus = eventbus.Nop
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// storePrecision is the finest instant every driver round-trips; postgres
// TIMESTAMPTZ keeps microseconds.
const storePrecision = time.Microsecond

// now is the engine's only clock read. Instants are truncated so values
// captured in timer callbacks still equal what the store hands back.
func (s *Service) now() time.Time {
	return s.clock.Now().Truncate(storePrecision)
}

// StartRequest identifies who starts which task where.
type StartRequest struct {
	ActorID   string
	TaskID    string
	GuildID   string
	ChannelID string
}

// ResetRequest targets the session of ActorID (or the guild for global tasks).
type ResetRequest struct {
	ActorID string
	TaskID  string
	GuildID string
	ResetBy string
}

type ResetResult struct {
	Success   bool
	Message   string
	Execution *task.Execution
}

type ResetAllResult struct {
	CancelledExecutions int
	AffectedActors      int
	TasksReset          int
}
