package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"

	"taskboard/internal/eventbus"
	logx "taskboard/pkg/logx"
)

// New builds a scheduler. clock may be nil for the real clock.
func New(cfg Config, clock clockwork.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if bus == nil {
		bus = eventbus.Nop
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		clock: clock,
		// SecondOptional accepts both 5- and 6-field specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		ctx:      context.Background(),
		entries:  map[string]*entry{},
		lastWarn: map[string]time.Time{},
	}
}

// Apply swaps the runtime config. A timezone change restarts cron.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tzChanged := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c != nil && tzChanged {
		<-s.c.Stop().Done()
		s.startCronLocked()
		s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()))
	}
}

// Start runs periodic jobs. ctx becomes the parent of every callback context.
// One-shot entries do not need Start; they arm as soon as they are scheduled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx = ctx
	s.startCronLocked()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.jobs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Warn("periodic job rejected", logx.String("job", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

// Stop halts cron, disarms every one-shot and waits for running callbacks.
// Later ScheduleAt calls fail with ErrStopped.
func (s *Service) Stop(ctx context.Context) {
	began := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	s.stopped = true
	for key, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.entries, key)
	}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with callbacks in flight")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(began)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) callbackTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cfg.CallbackTimeout > 0 {
		return s.cfg.CallbackTimeout
	}
	return defaultCallbackTimeout
}

func (s *Service) parent() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}
