package transport

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID            int
	ChatID        int64
	FromID        int64
	FromUsername  string
	FromFirstName string
	Text          string
	IsPrivate     bool
}

// Command returns the leading /command without the bot suffix, lowercased,
// or "" when the text is not a command.
func (m *Message) Command() string {
	if m == nil || !strings.HasPrefix(m.Text, "/") {
		return ""
	}
	cmd := strings.Fields(m.Text)[0]
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// ChatTarget addresses a chat either by numeric id or by @username.
type ChatTarget struct {
	ChatID   int64
	Username string
}

var ErrInvalidTarget = errors.New("invalid chat target")

// ParseTarget accepts "@name" or a numeric id such as "-1001234567890".
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") && len(s) > 1 {
		return ChatTarget{Username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return ChatTarget{}, ErrInvalidTarget
	}
	return ChatTarget{ChatID: id}, nil
}

func (t ChatTarget) String() string {
	if t.Username != "" {
		return t.Username
	}
	return strconv.FormatInt(t.ChatID, 10)
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Button is an inline keyboard button carrying raw callback data.
type Button struct {
	Text string
	Data string
}

// Keyboard is a grid of inline buttons, one slice per row.
type Keyboard [][]Button

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Keyboard       Keyboard
}

// ChatInfo describes a resolved chat.
type ChatInfo struct {
	ID       int64
	Type     string
	Title    string
	Username string
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	// ResolveChat looks a chat up by target.
	ResolveChat(ctx context.Context, to ChatTarget) (ChatInfo, error)
	// IsAdmin reports whether the bot itself administers the chat.
	IsAdmin(ctx context.Context, chatID int64) (bool, error)
	SetCommands(ctx context.Context, cmds []BotCommand) error
}
