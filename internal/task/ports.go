package task

import "context"

// ExecutionStore persists execution records. Find methods return (nil, nil)
// when nothing matches.
type ExecutionStore interface {
	FindActiveByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*Execution, error)
	FindLastByScopeAndTask(ctx context.Context, scopeKey, taskID string) (*Execution, error)
	FindByID(ctx context.Context, id string) (*Execution, error)
	Save(ctx context.Context, e *Execution) error
	Update(ctx context.Context, e *Execution) error
	FindAll(ctx context.Context) ([]*Execution, error)
}

// DefinitionStore serves task definitions. FindByID returns ErrTaskNotFound
// for unknown ids.
type DefinitionStore interface {
	FindByID(ctx context.Context, id string) (Definition, error)
	FindAll(ctx context.Context) ([]Definition, error)
	FindByBoardID(ctx context.Context, boardID string) ([]Definition, error)
}
