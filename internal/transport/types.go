// Package transport defines the chat-platform surface used by the router,
// the notifier and the log sink.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	IsPrivate    bool
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender is the outbound half of an adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
}

type Adapter interface {
	Sender
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// BotCommand is a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is implemented by adapters that can publish a command
// menu to the platform.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
