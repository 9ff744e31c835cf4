package task

import "time"

type State string

const (
	StateRunning    State = "RUNNING"
	StateAvailable  State = "AVAILABLE"
	StateOnCooldown State = "ON_COOLDOWN"
)

// Remaining is a countdown rounded up at two granularities.
type Remaining struct {
	Duration time.Duration
	Minutes  int
	Seconds  int
}

func NewRemaining(d time.Duration) Remaining {
	if d < 0 {
		d = 0
	}
	return Remaining{Duration: d, Minutes: ceilDiv(d, time.Minute), Seconds: ceilDiv(d, time.Second)}
}

func ceilDiv(d, unit time.Duration) int {
	return int((d + unit - 1) / unit)
}

// View is what an actor sees for one task.
type View struct {
	State           State
	CurrentUses     int
	MaxUses         int
	RemainingUses   int
	Remaining       Remaining
	NextAvailableAt *time.Time
	// Execution is the record the view was derived from, nil when fresh.
	Execution *Execution
}

// ResolveStatus derives the view from the latest record of a scope.
func ResolveStatus(def Definition, last *Execution, now time.Time) View {
	maxUses := def.Uses()
	v := View{MaxUses: maxUses, Execution: last}

	switch {
	case last != nil && last.Status == StatusRunning:
		v.State = StateRunning
		v.Remaining = NewRemaining(def.Duration() - now.Sub(last.StartedAt))
		v.CurrentUses = last.CurrentUses
		v.RemainingUses = max(0, maxUses-last.CurrentUses)

	case last != nil && last.Status == StatusCompleted && last.CurrentUses < maxUses && last.AvailableAt == nil:
		v.State = StateAvailable
		v.CurrentUses = last.CurrentUses
		v.RemainingUses = maxUses - last.CurrentUses

	case last != nil && last.AvailableAt != nil && now.Before(*last.AvailableAt):
		v.State = StateOnCooldown
		v.Remaining = NewRemaining(last.AvailableAt.Sub(now))
		v.CurrentUses = last.CurrentUses
		v.NextAvailableAt = TimePtr(*last.AvailableAt)

	default:
		v.State = StateAvailable
		v.RemainingUses = maxUses
		v.Execution = nil
	}
	return v
}

// Reusable reports whether a start should consume another use of the
// existing session instead of opening a new one.
func (v View) Reusable() bool {
	return v.State == StateAvailable && v.CurrentUses >= 1 && v.Execution != nil
}
