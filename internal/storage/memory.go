package storage

import (
	"context"
	"sort"
	"sync"

	"go.trai.ch/zerr"

	"taskboard/internal/task"
)

var _ Store = (*Memory)(nil)

// Memory keeps everything in process maps. It is safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	execs  map[string]*task.Execution
	audit  []task.AuditEvent
	closed bool
}

func NewMemory() *Memory {
	return &Memory{execs: map[string]*task.Execution{}}
}

func (m *Memory) FindActiveByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	return m.findBy(scopeKey, taskID, true)
}

func (m *Memory) FindLastByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*task.Execution, error) {
	return m.findBy(scopeKey, taskID, false)
}

func (m *Memory) findBy(scopeKey, taskID string, runningOnly bool) (*task.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	var best *task.Execution
	for _, e := range m.execs {
		if e.ScopeKey != scopeKey || e.TaskID != taskID {
			continue
		}
		if runningOnly && e.Status != task.StatusRunning {
			continue
		}
		best = latestOf(best, e)
	}
	return best.Clone(), nil
}

func (m *Memory) FindByID(ctx context.Context, id string) (*task.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.execs[id].Clone(), nil
}

func (m *Memory) Save(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.execs[e.ID] = e.Clone()
	return nil
}

func (m *Memory) Update(ctx context.Context, e *task.Execution) error {
	if e == nil || e.ID == "" {
		return zerr.New("execution id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.execs[e.ID]; !ok {
		return zerr.With(zerr.New("execution not found"), "execution_id", e.ID)
	}
	m.execs[e.ID] = e.Clone()
	return nil
}

func (m *Memory) FindAll(ctx context.Context) ([]*task.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]*task.Execution, 0, len(m.execs))
	for _, e := range m.execs {
		out = append(out, e.Clone())
	}
	sortExecutions(out)
	return out, nil
}

func (m *Memory) AppendAudit(ctx context.Context, e task.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.audit = append(m.audit, cloneAudit(e))
	return nil
}

func (m *Memory) ListAudit(ctx context.Context, limit int) ([]task.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return newestFirst(m.audit, limit), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// sortExecutions orders by start time, then id, so listings are stable.
func sortExecutions(xs []*task.Execution) {
	sort.Slice(xs, func(i, j int) bool {
		if !xs[i].StartedAt.Equal(xs[j].StartedAt) {
			return xs[i].StartedAt.Before(xs[j].StartedAt)
		}
		return xs[i].ID < xs[j].ID
	})
}

func cloneAudit(e task.AuditEvent) task.AuditEvent {
	if e.Success != nil {
		v := *e.Success
		e.Success = &v
	}
	return e
}

func newestFirst(all []task.AuditEvent, limit int) []task.AuditEvent {
	n := len(all)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]task.AuditEvent, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, cloneAudit(all[i]))
	}
	return out
}
