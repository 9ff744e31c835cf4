// Package scheduler fires keyed one-shot callbacks at arbitrary instants and
// runs a few internal periodic jobs on cron.
//
// One-shot entries live only in memory. Durability comes from the owner
// re-deriving (key, instant) pairs from its store and handing them to
// RestoreAll at startup.
package scheduler
