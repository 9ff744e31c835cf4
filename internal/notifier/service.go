package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"taskboard/internal/eventbus"
	rtsup "taskboard/internal/runtime/supervisor"
	"taskboard/internal/transport"
	logx "taskboard/pkg/logx"
)

var (
	ErrQueueFull  = errors.New("notifier queue full")
	ErrStopped    = errors.New("notifier stopped")
	ErrNoSender   = errors.New("notifier has no sender")
	ErrBadAddress = errors.New("notice has no usable chat id")
)

const sendTimeout = 10 * time.Second

// Service delivers notices: synchronously for the engine, through a queue
// for everything else. It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	sender  transport.Sender
	expirer Expirer
	clock   clockwork.Clock
	bus     eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping
}

// New builds a notifier. expirer may be nil, in which case broadcasts are
// never deleted.
func New(cfg Config, sender transport.Sender, expirer Expirer, clock clockwork.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if bus == nil {
		bus = eventbus.Nop
	}
	s := &Service{sender: sender, expirer: expirer, clock: clock, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

// SetSender swaps the outbound transport, e.g. once the adapter is built.
func (s *Service) SetSender(sender transport.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// SetExpirer sets where broadcast deletions are armed.
func (s *Service) SetExpirer(exp Expirer) {
	s.mu.Lock()
	s.expirer = exp
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.Burst)
}

// Start launches the queue workers. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		// Delivery is best-effort; a broken worker must not stop the app.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping {
				return context.Canceled
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
}

// Stop stops intake and drains the queue until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// In-flight Enqueue calls finish before the queue closes.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Enqueue queues a plain text post. kind labels it in events and logs.
func (s *Service) Enqueue(ctx context.Context, kind string, to transport.ChatTarget, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{kind: kind, to: to, text: text}:
		return nil
	default:
		s.publish(eventbus.NotifyFailed, kind, to, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			if _, err := s.deliver(ctx, j.kind, j.to, j.text); err != nil {
				s.log.Debug("queued notice dropped", logx.String("kind", j.kind), logx.Int64("chat_id", j.to.ChatID), logx.Err(err))
			}
		}
	}
}

// deliver sends text with rate limiting and retry until the attempts run out
// or ctx ends.
func (s *Service) deliver(ctx context.Context, kind string, to transport.ChatTarget, text string) (transport.MessageRef, error) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	snd := s.sender
	s.mu.Unlock()

	if snd == nil {
		return transport.MessageRef{}, ErrNoSender
	}
	if to.ChatID == 0 {
		return transport.MessageRef{}, ErrBadAddress
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			lastErr = errors.Join(lastErr, err)
			break
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		ref, err := snd.SendText(callCtx, to, text, nil)
		cancel()
		if err == nil {
			s.publish(eventbus.NotifySent, kind, to, attempt, nil)
			return ref, nil
		}
		lastErr = err
		s.log.Debug("notice send failed", logx.String("kind", kind), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = errors.Join(lastErr, ctx.Err())
			attempt = maxAttempts + 1
		}
	}
	s.publish(eventbus.NotifyFailed, kind, to, min(attempt, maxAttempts), lastErr)
	return transport.MessageRef{}, lastErr
}

func (s *Service) publish(typ, kind string, to transport.ChatTarget, attempts int, err error) {
	ev := Event{Kind: kind, ChatID: to.ChatID, ThreadID: to.ThreadID, At: s.clock.Now(), Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// retryDelay is the wait before attempt+1: exponential from RetryBase,
// capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	return min(max(d, 0), cfg.RetryMaxDelay)
}
