package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"taskboard/internal/eventbus"
	logx "taskboard/pkg/logx"
)

// ScheduleAt arms fn to run once at the given instant, replacing any entry
// under key. Instants in the past fire as soon as possible.
func (s *Service) ScheduleAt(key string, at time.Time, fn Callback) error {
	if strings.TrimSpace(key) == "" {
		return ErrKeyRequired
	}
	if fn == nil {
		return ErrNilCallback
	}

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.disarmLocked(key)

	s.seq++
	e := &entry{ver: s.seq, at: at, fn: fn}
	s.entries[key] = e

	ver := e.ver
	delay := at.Sub(s.clock.Now())
	if delay <= 0 {
		go s.fire(key, ver)
	} else {
		e.timer = s.clock.AfterFunc(delay, func() { s.fire(key, ver) })
	}
	return nil
}

// Cancel disarms key. It reports whether an armed entry was removed; unknown
// keys and entries that already began firing return false.
func (s *Service) Cancel(key string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	return s.disarmLocked(key)
}

// CancelPrefix disarms every key starting with prefix and returns how many.
func (s *Service) CancelPrefix(prefix string) int {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	n := 0
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) && s.disarmLocked(key) {
			n++
		}
	}
	return n
}

func (s *Service) disarmLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.entries, key)
	return true
}

// Has reports whether key is armed.
func (s *Service) Has(key string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Entries lists armed one-shots ordered by instant.
func (s *Service) Entries() []Entry {
	s.tmu.Lock()
	out := make([]Entry, 0, len(s.entries))
	for k, e := range s.entries {
		out = append(out, Entry{Key: k, At: e.at})
	}
	s.tmu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].Key < out[j].Key
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// RestoreAll re-arms recovered entries. Future instants are scheduled;
// past ones run synchronously, in the given order, before RestoreAll returns.
// The returned error joins the failures of those synchronous runs.
func (s *Service) RestoreAll(ctx context.Context, pending []Pending) error {
	now := s.clock.Now()
	var errs []error
	armed, fired := 0, 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		if p.At.After(now) {
			if err := s.ScheduleAt(p.Key, p.At, p.Fn); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.Key, err))
				continue
			}
			armed++
			continue
		}
		if p.Fn == nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Key, ErrNilCallback))
			continue
		}
		s.Cancel(p.Key)
		if err := s.run(ctx, p.Key, p.Fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Key, err))
		}
		fired++
	}
	s.log.Info("scheduler restored", logx.Int("armed", armed), logx.Int("fired", fired), logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// fire runs the entry if it is still the current version for key. The
// entry is dropped before the callback starts, so a racing Cancel is a no-op.
func (s *Service) fire(key string, ver uint64) {
	s.tmu.Lock()
	e, ok := s.entries[key]
	if !ok || e.ver != ver || s.stopped {
		s.tmu.Unlock()
		return
	}
	delete(s.entries, key)
	s.inflight.Add(1)
	s.tmu.Unlock()
	defer s.inflight.Done()

	if err := s.run(s.parent(), key, e.fn); err != nil {
		s.log.Warn("scheduled callback failed", logx.String("key", key), logx.Err(err))
	}
}

func (s *Service) run(parent context.Context, key string, fn Callback) (err error) {
	ctx, cancel := context.WithTimeout(parent, s.callbackTimeout())
	defer cancel()
	began := s.clock.Now()

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("scheduled callback panicked", logx.String("key", key), logx.Any("panic", r), logx.Stack(stack))
			s.bus.Publish(eventbus.Event{Type: eventbus.TimerPanicked, Data: map[string]any{"key": key, "panic": fmt.Sprint(r)}})
			return
		}
		data := map[string]any{"key": key, "took": s.clock.Since(began)}
		if err != nil {
			data["err"] = err.Error()
		}
		s.bus.Publish(eventbus.Event{Type: eventbus.TimerFired, Data: data})
	}()

	return fn(ctx, key)
}
