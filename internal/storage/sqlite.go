package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.trai.ch/zerr"
	_ "modernc.org/sqlite"

	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

//go:embed migrations/sqlite.sql
var sqliteSchema string

const execColumns = `id, task_id, scope_key, actor_id, guild_id, channel_id, started_at,
	completed_at, available_at, reset_at, status, end_reason, current_uses, created_at`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, zerr.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, zerr.With(zerr.Wrap(err, "create storage dir"), "path", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, zerr.Wrap(err, "open sqlite")
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, zerr.Wrap(err, "migrate sqlite")
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) FindActiveByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+execColumns+` FROM executions
		 WHERE scope_key = ? AND task_id = ? AND status = ?
		 ORDER BY started_at DESC, created_at DESC LIMIT 1`,
		scopeKey, taskID, string(task.StatusRunning))
	return s.scanOne(row, "find active execution")
}

func (s *sqliteStore) FindLastByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+execColumns+` FROM executions
		 WHERE scope_key = ? AND task_id = ?
		 ORDER BY started_at DESC, created_at DESC LIMIT 1`,
		scopeKey, taskID)
	return s.scanOne(row, "find last execution")
}

func (s *sqliteStore) FindByID(ctx context.Context, id string) (*task.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+execColumns+` FROM executions WHERE id = ?`, id)
	return s.scanOne(row, "find execution")
}

func (s *sqliteStore) FindAll(ctx context.Context) ([]*task.Execution, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+execColumns+` FROM executions ORDER BY started_at, id`)
	if err != nil {
		return nil, zerr.Wrap(err, "list executions")
	}
	defer rows.Close()
	var out []*task.Execution
	for rows.Next() {
		e, err := scanSQLiteExec(rows)
		if err != nil {
			return nil, zerr.Wrap(err, "scan execution")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(err, "list executions")
	}
	return out, nil
}

func (s *sqliteStore) Save(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(`+execColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   task_id=excluded.task_id, scope_key=excluded.scope_key, actor_id=excluded.actor_id,
		   guild_id=excluded.guild_id, channel_id=excluded.channel_id, started_at=excluded.started_at,
		   completed_at=excluded.completed_at, available_at=excluded.available_at, reset_at=excluded.reset_at,
		   status=excluded.status, end_reason=excluded.end_reason, current_uses=excluded.current_uses,
		   created_at=excluded.created_at`,
		e.ID, e.TaskID, e.ScopeKey, e.ActorID, e.GuildID, e.ChannelID, e.StartedAt.UnixNano(),
		nanos(e.CompletedAt), nanos(e.AvailableAt), nanos(e.ResetAt),
		string(e.Status), string(e.EndReason), e.CurrentUses, e.CreatedAt.UnixNano(),
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "save execution"), "execution_id", e.ID)
	}
	return nil
}

func (s *sqliteStore) Update(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET actor_id=?, guild_id=?, channel_id=?, started_at=?, completed_at=?,
		   available_at=?, reset_at=?, status=?, end_reason=?, current_uses=?
		 WHERE id = ?`,
		e.ActorID, e.GuildID, e.ChannelID, e.StartedAt.UnixNano(), nanos(e.CompletedAt),
		nanos(e.AvailableAt), nanos(e.ResetAt), string(e.Status), string(e.EndReason), e.CurrentUses,
		e.ID,
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "update execution"), "execution_id", e.ID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return zerr.With(zerr.New("execution not found"), "execution_id", e.ID)
	}
	return nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e task.AuditEvent) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	var success any
	if e.Success != nil {
		success = *e.Success
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(kind, at, execution_id, task_id, task_name, scope_key, actor_id, guild_id, channel_id, by_actor, success, detail)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		string(e.Kind), e.At.UnixNano(), nullStr(e.ExecutionID), nullStr(e.TaskID), nullStr(e.TaskName),
		nullStr(e.ScopeKey), nullStr(e.ActorID), nullStr(e.GuildID), nullStr(e.ChannelID), nullStr(e.By),
		success, nullStr(e.Detail),
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "append audit"), "kind", string(e.Kind))
	}
	return nil
}

func (s *sqliteStore) ListAudit(ctx context.Context, limit int) ([]task.AuditEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, at, execution_id, task_id, task_name, scope_key, actor_id, guild_id, channel_id, by_actor, success, detail
		 FROM audit ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, zerr.Wrap(err, "list audit")
	}
	defer rows.Close()
	var out []task.AuditEvent
	for rows.Next() {
		var (
			kind                                   string
			at                                     int64
			execID, taskID, taskName, scope, actor sql.NullString
			guild, channel, by, detail             sql.NullString
			success                                sql.NullBool
		)
		if err := rows.Scan(&kind, &at, &execID, &taskID, &taskName, &scope, &actor, &guild, &channel, &by, &success, &detail); err != nil {
			return nil, zerr.Wrap(err, "scan audit")
		}
		ev := task.AuditEvent{
			Kind:        task.AuditKind(kind),
			At:          time.Unix(0, at).UTC(),
			ExecutionID: execID.String,
			TaskID:      taskID.String,
			TaskName:    taskName.String,
			ScopeKey:    scope.String,
			ActorID:     actor.String,
			GuildID:     guild.String,
			ChannelID:   channel.String,
			By:          by.String,
			Detail:      detail.String,
		}
		if success.Valid {
			v := success.Bool
			ev.Success = &v
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(err, "list audit")
	}
	return out, nil
}

func (s *sqliteStore) scanOne(row *sql.Row, op string) (*task.Execution, error) {
	e, err := scanSQLiteExec(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.Wrap(err, op)
	}
	return e, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteExec(r rowScanner) (*task.Execution, error) {
	var (
		e                             task.Execution
		status, reason                string
		started, created              int64
		completed, available, resetAt sql.NullInt64
	)
	if err := r.Scan(&e.ID, &e.TaskID, &e.ScopeKey, &e.ActorID, &e.GuildID, &e.ChannelID, &started,
		&completed, &available, &resetAt, &status, &reason, &e.CurrentUses, &created); err != nil {
		return nil, err
	}
	e.StartedAt = time.Unix(0, started).UTC()
	e.CreatedAt = time.Unix(0, created).UTC()
	e.CompletedAt = fromNanos(completed)
	e.AvailableAt = fromNanos(available)
	e.ResetAt = fromNanos(resetAt)
	e.Status = task.Status(status)
	e.EndReason = task.EndReason(reason)
	return &e, nil
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return task.TimePtr(time.Unix(0, v.Int64).UTC())
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
