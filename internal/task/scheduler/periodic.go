package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "taskboard/pkg/logx"
)

const periodicWarnThrottle = 5 * time.Minute

// Every registers a periodic internal job by cron spec ("@every 1m",
// "*/5 * * * *"). Re-registering a name replaces it. Runs never overlap.
func (s *Service) Every(name, spec string, job func(ctx context.Context) error) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return ErrNilCallback
	}
	if _, err := s.parser.Parse(strings.TrimSpace(spec)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeJobLocked(name)
	d := &periodicDef{name: name, spec: strings.TrimSpace(spec), job: job}
	s.jobs = append(s.jobs, d)
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

// RemoveJob drops a periodic job by name.
func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeJobLocked(name)
}

func (s *Service) removeJobLocked(name string) bool {
	for i, d := range s.jobs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) addCronLocked(d *periodicDef) error {
	name, fn := d.name, d.job
	run := cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(s.parent(), s.callbackTimeout())
		defer cancel()
		if err := fn(ctx); err != nil {
			s.reportJobError(name, err)
		}
	})
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(run)

	// Interval jobs get a random first delay so restarts don't stampede.
	if every, ok := parseEvery(d.spec); ok {
		sched, jitter := spreadInterval(every, time.Now().In(s.loc), name)
		d.entryID = s.c.Schedule(sched, job)
		s.log.Debug("periodic job armed", logx.String("job", name), logx.Duration("every", every), logx.Duration("spread", jitter))
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func parseEvery(spec string) (time.Duration, bool) {
	rest, ok := strings.CutPrefix(spec, "@every")
	if !ok {
		return 0, false
	}
	d, err := time.ParseDuration(strings.TrimSpace(rest))
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

// reportJobError logs a periodic failure at most once per throttle window per job.
func (s *Service) reportJobError(name string, err error) {
	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	quiet := !last.IsZero() && now.Sub(last) < periodicWarnThrottle
	if !quiet {
		s.lastWarn[name] = now
	}
	s.warnMu.Unlock()

	if quiet {
		s.log.Debug("periodic job failed", logx.String("job", name), logx.Err(err))
		return
	}
	s.log.Warn("periodic job failed", logx.String("job", name), logx.Err(err))
}
