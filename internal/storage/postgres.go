package storage

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.trai.ch/zerr"

	"taskboard/internal/task"
	logx "taskboard/pkg/logx"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, zerr.New("storage.dsn is required for postgres driver")
	}

	if err := runMigrations(dsn, log); err != nil {
		return nil, err
	}

	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, zerr.Wrap(err, "parse database config")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, zerr.Wrap(err, "create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, zerr.Wrap(err, "ping database")
	}
	return &postgresStore{pool: pool, log: log}, nil
}

func runMigrations(dsn string, log logx.Logger) error {
	sub, err := fs.Sub(postgresMigrations, "migrations/postgres")
	if err != nil {
		return zerr.Wrap(err, "load embedded migrations")
	}
	d, err := iofs.New(sub, ".")
	if err != nil {
		return zerr.Wrap(err, "create migration source")
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, dsn)
	if err != nil {
		return zerr.Wrap(err, "create migrate instance")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return zerr.Wrap(err, "run migrations")
	}
	version, dirty, _ := m.Version()
	log.Info("migrations applied", logx.Int64("version", int64(version)), logx.Bool("dirty", dirty))
	return nil
}

func (s *postgresStore) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *postgresStore) FindActiveByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+execColumns+` FROM executions
		 WHERE scope_key = $1 AND task_id = $2 AND status = $3
		 ORDER BY started_at DESC, created_at DESC LIMIT 1`,
		scopeKey, taskID, string(task.StatusRunning))
	return scanPGOne(row, "find active execution")
}

func (s *postgresStore) FindLastByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+execColumns+` FROM executions
		 WHERE scope_key = $1 AND task_id = $2
		 ORDER BY started_at DESC, created_at DESC LIMIT 1`,
		scopeKey, taskID)
	return scanPGOne(row, "find last execution")
}

func (s *postgresStore) FindByID(ctx context.Context, id string) (*task.Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+execColumns+` FROM executions WHERE id = $1`, id)
	return scanPGOne(row, "find execution")
}

func (s *postgresStore) FindAll(ctx context.Context) ([]*task.Execution, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+execColumns+` FROM executions ORDER BY started_at, id`)
	if err != nil {
		return nil, zerr.Wrap(err, "list executions")
	}
	defer rows.Close()
	var out []*task.Execution
	for rows.Next() {
		e, err := scanPGExec(rows)
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

func (s *postgresStore) Save(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO executions(`+execColumns+`)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET
		   task_id=EXCLUDED.task_id, scope_key=EXCLUDED.scope_key, actor_id=EXCLUDED.actor_id,
		   guild_id=EXCLUDED.guild_id, channel_id=EXCLUDED.channel_id, started_at=EXCLUDED.started_at,
		   completed_at=EXCLUDED.completed_at, available_at=EXCLUDED.available_at, reset_at=EXCLUDED.reset_at,
		   status=EXCLUDED.status, end_reason=EXCLUDED.end_reason, current_uses=EXCLUDED.current_uses,
		   created_at=EXCLUDED.created_at`,
		e.ID, e.TaskID, e.ScopeKey, e.ActorID, e.GuildID, e.ChannelID, e.StartedAt,
		e.CompletedAt, e.AvailableAt, e.ResetAt,
		string(e.Status), string(e.EndReason), e.CurrentUses, e.CreatedAt,
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "save execution"), "execution_id", e.ID)
	}
	return nil
}

func (s *postgresStore) Update(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET actor_id=$1, guild_id=$2, channel_id=$3, started_at=$4, completed_at=$5,
		   available_at=$6, reset_at=$7, status=$8, end_reason=$9, current_uses=$10
		 WHERE id = $11`,
		e.ActorID, e.GuildID, e.ChannelID, e.StartedAt, e.CompletedAt,
		e.AvailableAt, e.ResetAt, string(e.Status), string(e.EndReason), e.CurrentUses,
		e.ID,
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "update execution"), "execution_id", e.ID)
	}
	if tag.RowsAffected() == 0 {
		return zerr.With(zerr.New("execution not found"), "execution_id", e.ID)
	}
	return nil
}

func (s *postgresStore) AppendAudit(ctx context.Context, e task.AuditEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit(kind, at, execution_id, task_id, task_name, scope_key, actor_id, guild_id, channel_id, by_actor, success, detail)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		string(e.Kind), e.At, nullStr(e.ExecutionID), nullStr(e.TaskID), nullStr(e.TaskName),
		nullStr(e.ScopeKey), nullStr(e.ActorID), nullStr(e.GuildID), nullStr(e.ChannelID), nullStr(e.By),
		e.Success, nullStr(e.Detail),
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "append audit"), "kind", string(e.Kind))
	}
	return nil
}

func (s *postgresStore) ListAudit(ctx context.Context, limit int) ([]task.AuditEvent, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT kind, at, execution_id, task_id, task_name, scope_key, actor_id, guild_id, channel_id, by_actor, success, detail
		 FROM audit ORDER BY seq DESC LIMIT $1`, lim)
	if err != nil {
		return nil, zerr.Wrap(err, "list audit")
	}
	defer rows.Close()
	var out []task.AuditEvent
	for rows.Next() {
		var (
			ev                                     task.AuditEvent
			kind                                   string
			execID, taskID, taskName, scope, actor *string
			guild, channel, by, detail             *string
		)
		if err := rows.Scan(&kind, &ev.At, &execID, &taskID, &taskName, &scope, &actor, &guild, &channel, &by, &ev.Success, &detail); err != nil {
			return nil, zerr.Wrap(err, "scan audit")
		}
		ev.Kind = task.AuditKind(kind)
		ev.ExecutionID = deref(execID)
		ev.TaskID = deref(taskID)
		ev.TaskName = deref(taskName)
		ev.ScopeKey = deref(scope)
		ev.ActorID = deref(actor)
		ev.GuildID = deref(guild)
		ev.ChannelID = deref(channel)
		ev.By = deref(by)
		ev.Detail = deref(detail)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, zerr.Wrap(err, "list audit")
	}
	return out, nil
}

func scanPGOne(row pgx.Row, op string) (*task.Execution, error) {
	e, err := scanPGExec(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.Wrap(err, op)
	}
	return e, nil
}

func scanPGExec(r rowScanner) (*task.Execution, error) {
	var (
		e              task.Execution
		status, reason string
	)
	if err := r.Scan(&e.ID, &e.TaskID, &e.ScopeKey, &e.ActorID, &e.GuildID, &e.ChannelID, &e.StartedAt,
		&e.CompletedAt, &e.AvailableAt, &e.ResetAt, &status, &reason, &e.CurrentUses, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Status = task.Status(status)
	e.EndReason = task.EndReason(reason)
	return &e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
