package task

import "time"

type AuditKind string

const (
	AuditStarted          AuditKind = "started"
	AuditCompleted        AuditKind = "completed"
	AuditCooldownComplete AuditKind = "cooldown_complete"
	AuditDMSent           AuditKind = "dm_sent"
	AuditReset            AuditKind = "reset"
	AuditResetAll         AuditKind = "reset_all"
)

// AuditEvent is one entry of the execution audit trail.
type AuditEvent struct {
	Kind        AuditKind
	At          time.Time
	ExecutionID string
	TaskID      string
	TaskName    string
	ScopeKey    string
	ActorID     string
	GuildID     string
	ChannelID   string
	// By is the operator behind a reset.
	By string
	// Success is set for delivery outcomes (dm_sent).
	Success *bool
	Detail  string
}

type NoticeKind string

const (
	NoticeCompleted        NoticeKind = "completed"
	NoticeCooldownComplete NoticeKind = "cooldown_complete"
	NoticeReminder         NoticeKind = "reminder"
	NoticeReset            NoticeKind = "reset"
)

// Notice is a message the engine wants delivered; rendering is up to the notifier.
type Notice struct {
	Kind        NoticeKind
	ActorID     string
	GuildID     string
	ChannelID   string
	ExecutionID string
	Task        Definition
	// Remaining is the time left in the run (reminders) or until availability.
	Remaining   Remaining
	AvailableAt *time.Time
	ResetBy     string
}
