package notifier

import (
	"fmt"
	"strings"
	"time"

	"taskboard/internal/task"
)

// FormatDuration renders d as "1d 2h 3m 4s", rounding up to whole seconds
// and leaving out zero units. Non-positive values render as "0s".
func FormatDuration(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs <= 0 {
		return "0s"
	}
	days := secs / 86400
	hours := secs % 86400 / 3600
	mins := secs % 3600 / 60
	secs %= 60

	parts := make([]string, 0, 4)
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if mins > 0 {
		parts = append(parts, fmt.Sprintf("%dm", mins))
	}
	if secs > 0 {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	return strings.Join(parts, " ")
}

// Render turns a notice into the plain text that is posted.
func Render(n task.Notice) string {
	label := n.Task.Label()
	switch n.Kind {
	case task.NoticeCompleted:
		if n.AvailableAt != nil && n.Remaining.Duration > 0 {
			return fmt.Sprintf("✅ %s is done. Available again in %s.", label, FormatDuration(n.Remaining.Duration))
		}
		return fmt.Sprintf("✅ %s is done and available again.", label)

	case task.NoticeCooldownComplete:
		if n.Task.Global {
			return fmt.Sprintf("🔔 %s is available again for everyone.", label)
		}
		return fmt.Sprintf("🔔 %s is available again.", label)

	case task.NoticeReminder:
		return fmt.Sprintf("⏳ %s: %s left.", label, FormatDuration(n.Remaining.Duration))

	case task.NoticeReset:
		if n.ResetBy != "" {
			return fmt.Sprintf("♻️ %s was reset by %s and is available now.", label, n.ResetBy)
		}
		return fmt.Sprintf("♻️ %s was reset and is available now.", label)
	}
	return label
}
