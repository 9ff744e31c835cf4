package storage

import (
	"time"

	"taskboard/internal/task"
)

// execRecord is the on-disk JSON shape of an execution. Field names are
// part of the file format.
type execRecord struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	ScopeKey    string     `json:"scope_key"`
	ActorID     string     `json:"actor_id"`
	GuildID     string     `json:"guild_id,omitempty"`
	ChannelID   string     `json:"channel_id,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	AvailableAt *time.Time `json:"available_at,omitempty"`
	ResetAt     *time.Time `json:"reset_at,omitempty"`
	Status      string     `json:"status"`
	EndReason   string     `json:"end_reason,omitempty"`
	CurrentUses int        `json:"current_uses"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toRecord(e *task.Execution) execRecord {
	return execRecord{
		ID:          e.ID,
		TaskID:      e.TaskID,
		ScopeKey:    e.ScopeKey,
		ActorID:     e.ActorID,
		GuildID:     e.GuildID,
		ChannelID:   e.ChannelID,
		StartedAt:   e.StartedAt,
		CompletedAt: e.CompletedAt,
		AvailableAt: e.AvailableAt,
		ResetAt:     e.ResetAt,
		Status:      string(e.Status),
		EndReason:   string(e.EndReason),
		CurrentUses: e.CurrentUses,
		CreatedAt:   e.CreatedAt,
	}
}

func (r execRecord) execution() *task.Execution {
	e := &task.Execution{
		ID:          r.ID,
		TaskID:      r.TaskID,
		ScopeKey:    r.ScopeKey,
		ActorID:     r.ActorID,
		GuildID:     r.GuildID,
		ChannelID:   r.ChannelID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		AvailableAt: r.AvailableAt,
		ResetAt:     r.ResetAt,
		Status:      task.Status(r.Status),
		EndReason:   task.EndReason(r.EndReason),
		CurrentUses: r.CurrentUses,
		CreatedAt:   r.CreatedAt,
	}
	return e.Clone()
}

// auditRecord is one JSON line of the audit log.
type auditRecord struct {
	Kind        string    `json:"kind"`
	At          time.Time `json:"at"`
	ExecutionID string    `json:"execution_id,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	TaskName    string    `json:"task_name,omitempty"`
	ScopeKey    string    `json:"scope_key,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	GuildID     string    `json:"guild_id,omitempty"`
	ChannelID   string    `json:"channel_id,omitempty"`
	By          string    `json:"by,omitempty"`
	Success     *bool     `json:"success,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

func toAuditRecord(e task.AuditEvent) auditRecord {
	e = cloneAudit(e)
	return auditRecord{
		Kind:        string(e.Kind),
		At:          e.At,
		ExecutionID: e.ExecutionID,
		TaskID:      e.TaskID,
		TaskName:    e.TaskName,
		ScopeKey:    e.ScopeKey,
		ActorID:     e.ActorID,
		GuildID:     e.GuildID,
		ChannelID:   e.ChannelID,
		By:          e.By,
		Success:     e.Success,
		Detail:      e.Detail,
	}
}

func (r auditRecord) event() task.AuditEvent {
	return cloneAudit(task.AuditEvent{
		Kind:        task.AuditKind(r.Kind),
		At:          r.At,
		ExecutionID: r.ExecutionID,
		TaskID:      r.TaskID,
		TaskName:    r.TaskName,
		ScopeKey:    r.ScopeKey,
		ActorID:     r.ActorID,
		GuildID:     r.GuildID,
		ChannelID:   r.ChannelID,
		By:          r.By,
		Success:     r.Success,
		Detail:      r.Detail,
	})
}
