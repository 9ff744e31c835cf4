package task

import (
	"strings"
	"time"
)

// GlobalScopePrefix marks scope keys shared by every actor in a guild.
const GlobalScopePrefix = "GLOBAL:"

// Definition is an immutable task configuration loaded from a board.
type Definition struct {
	ID          string
	BoardID     string
	Name        string
	Description string
	Emoji       string

	DurationMinutes int
	CooldownMinutes int
	// MaxUses is the number of starts allowed before cooldown applies; 0 means 1.
	MaxUses int
	Global  bool

	NotificationIntervalMinutes int
	EarlyNotificationMinutes    int

	CreatedAt time.Time
}

func (d Definition) Duration() time.Duration { return minutes(d.DurationMinutes) }
func (d Definition) Cooldown() time.Duration { return minutes(d.CooldownMinutes) }
func (d Definition) Interval() time.Duration { return minutes(d.NotificationIntervalMinutes) }
func (d Definition) Early() time.Duration    { return minutes(d.EarlyNotificationMinutes) }

// Uses returns the effective use limit.
func (d Definition) Uses() int {
	if d.MaxUses < 1 {
		return 1
	}
	return d.MaxUses
}

func (d Definition) Instant() bool { return d.DurationMinutes <= 0 }

// Label is the human name with the emoji prefix when set.
func (d Definition) Label() string {
	if d.Emoji == "" {
		return d.Name
	}
	return d.Emoji + " " + d.Name
}

func minutes(n int) time.Duration { return time.Duration(n) * time.Minute }

// ScopeKey returns the identity execution state is tracked under.
func ScopeKey(def Definition, actorID, guildID string) string {
	if def.Global {
		return GlobalScopePrefix + guildID
	}
	return actorID
}

func IsGlobalScope(key string) bool { return strings.HasPrefix(key, GlobalScopePrefix) }

type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
)

// EndReason records how the running phase ended.
type EndReason string

const (
	EndNone      EndReason = ""
	EndCompleted EndReason = "completed"
	EndReset     EndReason = "reset"
)

// Execution is one (scope key, task) session.
type Execution struct {
	ID        string
	TaskID    string
	ScopeKey  string
	ActorID   string // actor who triggered the latest start
	GuildID   string
	ChannelID string

	StartedAt   time.Time
	CompletedAt *time.Time
	AvailableAt *time.Time
	ResetAt     *time.Time

	Status      Status
	EndReason   EndReason
	CurrentUses int
	CreatedAt   time.Time
}

func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	cp := *e
	cp.CompletedAt = clonePtr(e.CompletedAt)
	cp.AvailableAt = clonePtr(e.AvailableAt)
	cp.ResetAt = clonePtr(e.ResetAt)
	return &cp
}

// InCooldown reports whether the record still blocks new starts at now.
func (e *Execution) InCooldown(now time.Time) bool {
	return e != nil && e.Status == StatusCompleted && e.AvailableAt != nil && now.Before(*e.AvailableAt)
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for optional instants.
func TimePtr(t time.Time) *time.Time { return &t }
