package task

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrAlreadyRunning = errors.New("task already running")
	ErrOnCooldown     = errors.New("task on cooldown")
)

// AlreadyRunningError carries how long the current run has left.
type AlreadyRunningError struct {
	TaskID    string
	Remaining Remaining
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("task %s already running (%dm left)", e.TaskID, e.Remaining.Minutes)
}

func (e *AlreadyRunningError) Unwrap() error { return ErrAlreadyRunning }

// OnCooldownError carries how long until the task is available again.
type OnCooldownError struct {
	TaskID      string
	Remaining   Remaining
	AvailableAt time.Time
}

func (e *OnCooldownError) Error() string {
	return fmt.Sprintf("task %s on cooldown (%dm left)", e.TaskID, e.Remaining.Minutes)
}

func (e *OnCooldownError) Unwrap() error { return ErrOnCooldown }

// ValidationError collects every problem found in a piece of configuration.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems: %v", e.Source, len(e.Problems), e.Problems)
}

func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Err returns e when it holds problems and nil otherwise.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}
