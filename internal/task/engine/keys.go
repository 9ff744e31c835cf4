package engine

import "strings"

const (
	cooldownPrefix = "cooldown_"
	reminderPrefix = "reminder_"
)

// Timer keys: the completion timer uses the bare execution id.
func completionKey(id string) string { return id }
func cooldownKey(id string) string   { return cooldownPrefix + id }
func reminderKeyPrefix(id string) string {
	return reminderPrefix + id + "_"
}
func reminderKey(id, suffix string) string { return reminderKeyPrefix(id) + suffix }

// executionIDFromCooldownKey strips the cooldown prefix; bare ids pass through.
func executionIDFromCooldownKey(key string) string {
	return strings.TrimPrefix(key, cooldownPrefix)
}

func lockKey(scopeKey, taskID string) string { return scopeKey + "|" + taskID }
