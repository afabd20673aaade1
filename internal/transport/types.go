package transport

import "context"

// Endpoint is a delivery destination: a bot token plus a chat (and an
// optional forum topic).
type Endpoint struct {
	Name     string
	Token    string
	ChatID   int64
	ThreadID int
}

func (e Endpoint) Valid() bool { return e.Token != "" && e.ChatID != 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers a text message to an endpoint. Implementations split
// oversize text themselves.
type Sender interface {
	Send(ctx context.Context, to Endpoint, text string, opt *SendOptions) error
}

type Notification struct {
	Kind     string // "new", "update", "exact", "error"
	Endpoint Endpoint
	Text     string
	Options  *SendOptions
}

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
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

// Adapter is an interactive bot connection: it receives updates and replies.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus (e.g. Telegram /menu list).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
