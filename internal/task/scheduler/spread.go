package scheduler

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// spreadSchedule delays the first run of a base schedule, then delegates.
type spreadSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *spreadSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

var spreadSeq atomic.Uint64

func spreadInterval(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	seed := now.UnixNano() ^ int64(spreadSeq.Add(1)) ^ int64(xxhash.Sum64String(tag))
	jitter := time.Duration(rand.New(rand.NewSource(seed)).Int63n(int64(window)))
	return &spreadSchedule{base: base, first: now.Add(every + jitter)}, jitter
}
