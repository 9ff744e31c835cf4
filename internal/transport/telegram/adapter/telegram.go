// Package adapter connects the transport interfaces to the Telegram Bot API
// through telebot.
package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	tele "gopkg.in/telebot.v4"

	rtsup "taskboard/internal/runtime/supervisor"
	"taskboard/internal/transport"
	logx "taskboard/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

var (
	_ transport.Adapter            = (*Adapter)(nil)
	_ transport.CommandMenuUpdater = (*Adapter)(nil)
	_ logx.Sender                  = (*Adapter)(nil)
)

type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	out     atomic.Pointer[chan<- transport.Update]
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	// dropped counts updates lost because the consumer lagged behind polling.
	dropped atomic.Int64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{log: log.With(logx.String("comp", "telegram")), bot: b}
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &transport.Message{
		ID:        m.ID,
		ChatID:    m.Chat.ID,
		ThreadID:  m.ThreadID,
		Text:      m.Text,
		IsPrivate: m.Private(),
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
	}
	a.forward(transport.Update{Kind: transport.UpdateMessage, Message: msg})
	return nil
}

func (a *Adapter) forward(up transport.Update) {
	p := a.out.Load()
	if p == nil || *p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and forwards updates to out. Calling it again
// while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(&out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})

	sup.Go0("poll.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop. An early return while the context is alive
	// is treated as a failure and restarted.
	sup.GoRestart("poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) reportDropped(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop cancels polling and waits at most a short grace period.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		grace = min(grace, time.Until(dl))
	}
	if grace <= 0 {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first transport.MessageRef
	for i, chunk := range splitText(text, textLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

// SendLog mirrors a log line to a chat for the telegram log sink.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, transport.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// UpdateMenuCommands publishes the command menu. It only calls Telegram when
// the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []transport.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := menuHash(cmds)
	if sum == a.menuHash {
		return nil
	}
	tc := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if len(d) > 256 {
			d = d[:256]
		}
		tc = append(tc, tele.Command{Text: c.Command, Description: d})
		if len(tc) >= 100 {
			break
		}
	}
	if err := a.bot.SetCommands(tc); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(tc)))
	return nil
}

func menuHash(cmds []transport.BotCommand) uint64 {
	d := xxhash.New()
	for _, c := range cmds {
		_, _ = d.WriteString(c.Command)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(c.Description)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
