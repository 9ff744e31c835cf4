// Package router turns incoming chat messages into engine calls.
package router

import (
	"context"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "taskboard/internal/runtime/supervisor"
	"taskboard/internal/transport"
	logx "taskboard/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	// Timeout overrides the router default when positive.
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request is one parsed command invocation.
type Request struct {
	Message *transport.Message
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger
	Sender  transport.Sender
}

// Reply answers in the chat (and topic) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}

// Actor is the sender id in the form the engine stores it.
func (r *Request) Actor() string { return strconv.FormatInt(r.FromID, 10) }

// ChatKey is the chat id in the form boards reference it.
func (r *Request) ChatKey() string { return strconv.FormatInt(r.Chat.ChatID, 10) }

type Config struct {
	Owners  []int64
	Workers int
	// Timeout bounds each handler; 0 means 15s.
	Timeout time.Duration
}

// Router dispatches commands to a bounded worker pool. The registry and
// owners can be replaced while it runs.
type Router struct {
	log    logx.Logger
	sender transport.Sender

	mu      sync.RWMutex
	cmds    map[string]Command
	ordered []Command
	owners  []int64
	timeout time.Duration
	workers int

	jobs chan func()
}

func New(cfg Config, sender transport.Sender, log logx.Logger) *Router {
	r := &Router{
		log:    log.With(logx.String("comp", "telegram.router")),
		sender: sender,
		cmds:   map[string]Command{},
		jobs:   make(chan func(), 256),
	}
	r.workers = cfg.Workers
	if r.workers <= 0 {
		r.workers = max(2, runtime.NumCPU())
	}
	r.Apply(cfg)
	return r
}

// Apply updates owners and the handler timeout.
func (r *Router) Apply(cfg Config) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r.mu.Lock()
	r.owners = slices.Clone(cfg.Owners)
	r.timeout = timeout
	r.mu.Unlock()
}

// Register replaces the command set. A help command is always added.
func (r *Router) Register(cmds ...Command) {
	cmds = append(slices.Clone(cmds), Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show available commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return r.reply(ctx, req, r.helpText(req.FromID))
		},
	})

	byName := map[string]Command{}
	ordered := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := sanitizeCommand(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		byName[name] = c
		ordered = append(ordered, c)
		for _, a := range c.Aliases {
			if a = sanitizeCommand(a); a != "" {
				if _, taken := byName[a]; !taken {
					byName[a] = c
				}
			}
		}
	}

	r.mu.Lock()
	r.cmds = byName
	r.ordered = ordered
	r.mu.Unlock()
}

// PublishMenu pushes the command list to the platform when supported.
func (r *Router) PublishMenu(ctx context.Context, up transport.CommandMenuUpdater) error {
	r.mu.RLock()
	menu := buildMenu(r.ordered)
	r.mu.RUnlock()
	return up.UpdateMenuCommands(ctx, menu)
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// DispatchLoop consumes updates until ctx ends or updates is closed, then
// stops the workers, waiting up to 3s for in-flight handlers.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	jobs := r.jobs
	for i := 0; i < r.workers; i++ {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == transport.UpdateMessage && up.Message != nil {
				r.route(ctx, up.Message)
			}
		}
	}
}

func (r *Router) route(ctx context.Context, msg *transport.Message) {
	req, h, ok := r.prepare(ctx, msg)
	if !ok {
		return
	}
	select {
	case r.jobs <- func() { _ = h(ctx, req) }:
	default:
		_ = r.reply(ctx, req, "Busy, try again in a moment.")
	}
}

// prepare resolves the command of msg and builds the wrapped handler. It
// answers unknown and unauthorized commands itself.
func (r *Router) prepare(ctx context.Context, msg *transport.Message) (*Request, HandlerFunc, bool) {
	parts := tokenize(msg.Text)
	if len(parts) == 0 {
		return nil, nil, false
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return nil, nil, false
	}

	rid := newReqID()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", word),
	)
	req := &Request{
		Message: msg,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: word,
		Args:    parts[1:],
		ReqID:   rid,
		Logger:  reqLog,
		Sender:  r.sender,
	}

	r.mu.RLock()
	cmd, found := r.cmds[word]
	timeout := r.timeout
	r.mu.RUnlock()
	if !found {
		_ = r.reply(ctx, req, "Unknown command. Try /help")
		return nil, nil, false
	}
	if cmd.Access == AccessOwnerOnly && !r.isOwner(msg.FromID) {
		_ = r.reply(ctx, req, "Unauthorized.")
		return nil, nil, false
	}
	if cmd.Timeout > 0 {
		timeout = cmd.Timeout
	}
	return req, Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout)), true
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	return req.Reply(ctx, text)
}

func (r *Router) helpText(from int64) string {
	r.mu.RLock()
	cmds := slices.Clone(r.ordered)
	r.mu.RUnlock()
	owner := r.isOwner(from)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
