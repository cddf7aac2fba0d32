package transport

import (
	"context"
	"errors"
)

// MaxTextRunes is the hard per-message limit of the chat platform.
const MaxTextRunes = 4096

// ParseModeMarkdown renders ``` fences as code blocks.
const ParseModeMarkdown = "Markdown"

var ErrTextTooLong = errors.New("transport: text exceeds message limit")

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
	IsGroup      bool
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

// Adapter is one chat platform. SendText never splits: text longer than the
// platform limit fails with ErrTextTooLong.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
}

// Identity is implemented by adapters that know the bot's own username, so
// the router can recognise mentions.
type Identity interface {
	Username() string
}
