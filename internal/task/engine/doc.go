// Package engine drives the execution state machine
// (available -> running -> cooldown -> available) for every
// (scope key, task) pair. It persists through task.ExecutionStore, arms
// completion, cooldown and reminder timers on the scheduler, and hands
// notifications and audit events to best-effort ports once the state change
// is stored.
package engine
