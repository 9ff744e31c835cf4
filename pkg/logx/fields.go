package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field writes one key onto a zerolog event. Later fields with the same key win.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field {
	return func(e *zerolog.Event) { e.Int64(k, v) }
}
func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field        { return func(e *zerolog.Event) { e.Interface(k, v) } }
func Strs(k string, v []string) Field  { return func(e *zerolog.Event) { e.Strs(k, v) } }

func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}

// Common domain keys, so every package spells them the same way.
func Execution(id string) Field { return String("execution_id", id) }
func Task(id string) Field      { return String("task_id", id) }
func Scope(key string) Field    { return String("scope", key) }
func Actor(id string) Field     { return String("actor_id", id) }
