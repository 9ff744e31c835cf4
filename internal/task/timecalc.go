package task

import (
	"sort"
	"strconv"
	"time"
)

// CompletionTime is when the running phase of a start at startedAt ends.
func CompletionTime(def Definition, startedAt time.Time) time.Time {
	return startedAt.Add(def.Duration())
}

// AvailableTime is when a new start is allowed again. Duration and cooldown
// both count from startedAt, so the later of the two wins.
func AvailableTime(def Definition, startedAt time.Time) time.Time {
	return startedAt.Add(max(def.Duration(), def.Cooldown()))
}

// FinalReminder is the suffix of the reminder that precedes completion by
// the early-notification lead.
const FinalReminder = "final"

// Reminder is one progress notice relative to the start of a run.
type Reminder struct {
	Suffix string
	Offset time.Duration
}

// ReminderOffsets lists the reminders of a run, ordered by offset. Every
// offset lies strictly inside the running window. A task without an
// interval gets no reminders, early warning included.
func ReminderOffsets(def Definition) []Reminder {
	dur, interval, early := def.Duration(), def.Interval(), def.Early()
	if dur <= 0 {
		return nil
	}

	var out []Reminder
	seen := map[time.Duration]bool{}
	if interval > 0 {
		for k := 1; k <= int(dur/interval); k++ {
			off := time.Duration(k)*interval - early
			if off <= 0 || off >= dur || seen[off] {
				continue
			}
			seen[off] = true
			out = append(out, Reminder{Suffix: strconv.Itoa(k), Offset: off})
		}
	}
	// The early warning rides on the interval; without one nothing is sent.
	if early > 0 && interval > 0 && dur > early && !seen[dur-early] {
		out = append(out, Reminder{Suffix: FinalReminder, Offset: dur - early})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
