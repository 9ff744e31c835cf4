package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"taskboard/internal/boards"
	"taskboard/internal/notifier"
	"taskboard/internal/task"
	"taskboard/internal/task/engine"
	logx "taskboard/pkg/logx"
)

// Engine is the part of the execution engine the commands drive.
type Engine interface {
	Start(ctx context.Context, req engine.StartRequest) (*task.Execution, error)
	CheckStatus(ctx context.Context, actorID, taskID, guildID string) (task.View, error)
	Reset(ctx context.Context, req engine.ResetRequest) engine.ResetResult
	ResetAll(ctx context.Context, by string) (engine.ResetAllResult, error)
}

// Catalog resolves the boards and tasks visible in a chat.
type Catalog interface {
	Board(id string) (boards.Board, bool)
	BoardsForChat(chatID string) []boards.Board
	Resolve(chatID, query string) (task.Definition, error)
}

// TaskCommands builds the task board command set.
func TaskCommands(eng Engine, cat Catalog) []Command {
	h := taskHandlers{eng: eng, cat: cat}
	return []Command{
		{Name: "tasks", Description: "list the tasks of this chat", Usage: "/tasks", Handle: h.list},
		{Name: "start_task", Aliases: []string{"start"}, Description: "start a task", Usage: "/start_task <task>", Handle: h.start},
		{Name: "status", Description: "show the state of a task", Usage: "/status <task>", Handle: h.status},
		{Name: "reset", Description: "reset a user's task", Usage: "/reset <user_id> <task>", Access: AccessOwnerOnly, Handle: h.reset},
		{Name: "resetall", Description: "reset every running or cooling task", Usage: "/resetall", Access: AccessOwnerOnly, Handle: h.resetAll},
	}
}

type taskHandlers struct {
	eng Engine
	cat Catalog
}

func (h taskHandlers) send(ctx context.Context, req *Request, text string) error {
	return req.Reply(ctx, text)
}

func (h taskHandlers) list(ctx context.Context, req *Request) error {
	bs := h.cat.BoardsForChat(req.ChatKey())
	if len(bs) == 0 {
		return h.send(ctx, req, "No boards are set up for this chat.")
	}
	var b strings.Builder
	for i, board := range bs {
		if i > 0 {
			b.WriteString("\n")
		}
		title := board.Title
		if title == "" {
			title = board.ID
		}
		fmt.Fprintf(&b, "📋 %s\n", title)
		for _, def := range board.Tasks {
			v, err := h.eng.CheckStatus(ctx, req.Actor(), def.ID, board.GuildID)
			if err != nil {
				req.Logger.Warn("status failed", logx.Task(def.ID), logx.Err(err))
				fmt.Fprintf(&b, "• %s\n", def.Label())
				continue
			}
			fmt.Fprintf(&b, "• %s: %s\n", def.Label(), describeView(def, v))
		}
	}
	return h.send(ctx, req, strings.TrimRight(b.String(), "\n"))
}

func (h taskHandlers) resolve(ctx context.Context, req *Request, query string) (task.Definition, boards.Board, bool) {
	def, err := h.cat.Resolve(req.ChatKey(), query)
	if err != nil {
		_ = h.send(ctx, req, fmt.Sprintf("Task %q not found here. Try /tasks", query))
		return task.Definition{}, boards.Board{}, false
	}
	board, _ := h.cat.Board(def.BoardID)
	return def, board, true
}

func (h taskHandlers) start(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return h.send(ctx, req, "Usage: /start_task <task>")
	}
	def, board, ok := h.resolve(ctx, req, strings.Join(req.Args, " "))
	if !ok {
		return nil
	}
	channel := board.ChannelID
	if channel == "" {
		channel = req.ChatKey()
	}
	exec, err := h.eng.Start(ctx, engine.StartRequest{
		ActorID:   req.Actor(),
		TaskID:    def.ID,
		GuildID:   board.GuildID,
		ChannelID: channel,
	})
	if err != nil {
		if text, ok := domainErrorText(def, err); ok {
			return h.send(ctx, req, text)
		}
		_ = h.send(ctx, req, "Something went wrong, try again later.")
		return err
	}
	return h.send(ctx, req, startedText(def, exec))
}

func (h taskHandlers) status(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return h.send(ctx, req, "Usage: /status <task>")
	}
	def, board, ok := h.resolve(ctx, req, strings.Join(req.Args, " "))
	if !ok {
		return nil
	}
	v, err := h.eng.CheckStatus(ctx, req.Actor(), def.ID, board.GuildID)
	if err != nil {
		if text, ok := domainErrorText(def, err); ok {
			return h.send(ctx, req, text)
		}
		return err
	}
	return h.send(ctx, req, fmt.Sprintf("%s: %s", def.Label(), describeView(def, v)))
}

func (h taskHandlers) reset(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return h.send(ctx, req, "Usage: /reset <user_id> <task>")
	}
	if _, err := strconv.ParseInt(req.Args[0], 10, 64); err != nil {
		return h.send(ctx, req, fmt.Sprintf("%q is not a user id.", req.Args[0]))
	}
	def, board, ok := h.resolve(ctx, req, strings.Join(req.Args[1:], " "))
	if !ok {
		return nil
	}
	res := h.eng.Reset(ctx, engine.ResetRequest{
		ActorID: req.Args[0],
		TaskID:  def.ID,
		GuildID: board.GuildID,
		ResetBy: req.Actor(),
	})
	if !res.Success {
		return h.send(ctx, req, "Not reset: "+res.Message)
	}
	return h.send(ctx, req, fmt.Sprintf("♻️ %s reset for %s.", def.Label(), req.Args[0]))
}

func (h taskHandlers) resetAll(ctx context.Context, req *Request) error {
	res, err := h.eng.ResetAll(ctx, req.Actor())
	if err != nil {
		_ = h.send(ctx, req, "Reset failed, see logs.")
		return err
	}
	return h.send(ctx, req, fmt.Sprintf("♻️ Reset %d executions (%d users, %d tasks).",
		res.CancelledExecutions, res.AffectedActors, res.TasksReset))
}

// domainErrorText renders the expected refusals of the engine.
func domainErrorText(def task.Definition, err error) (string, bool) {
	var running *task.AlreadyRunningError
	var cooling *task.OnCooldownError
	switch {
	case errors.As(err, &running):
		return fmt.Sprintf("⏳ %s is already running, %s left.", def.Label(), notifier.FormatDuration(running.Remaining.Duration)), true
	case errors.As(err, &cooling):
		return fmt.Sprintf("🧊 %s is on cooldown, available in %s.", def.Label(), notifier.FormatDuration(cooling.Remaining.Duration)), true
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found. Try /tasks", true
	}
	return "", false
}

func startedText(def task.Definition, exec *task.Execution) string {
	uses := ""
	if def.Uses() > 1 {
		uses = fmt.Sprintf(" (use %d/%d)", exec.CurrentUses, def.Uses())
	}
	if def.Instant() {
		return fmt.Sprintf("✅ %s done%s.", def.Label(), uses)
	}
	return fmt.Sprintf("▶️ %s started%s, ends in %s.", def.Label(), uses, notifier.FormatDuration(def.Duration()))
}

func describeView(def task.Definition, v task.View) string {
	switch v.State {
	case task.StateRunning:
		return "running, " + notifier.FormatDuration(v.Remaining.Duration) + " left"
	case task.StateOnCooldown:
		return "cooldown, " + notifier.FormatDuration(v.Remaining.Duration) + " left"
	}
	if def.Uses() > 1 {
		return fmt.Sprintf("available (%d/%d uses left)", v.RemainingUses, v.MaxUses)
	}
	return "available"
}
