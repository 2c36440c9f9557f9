package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "challengebot/internal/transport"
	logx "challengebot/pkg/logx"
)

func (a *Adapter) ResolveChat(ctx context.Context, to kit.ChatTarget) (kit.ChatInfo, error) {
	if err := ctx.Err(); err != nil {
		return kit.ChatInfo{}, err
	}
	ref := to.Username
	if ref == "" {
		ref = strconv.FormatInt(to.ChatID, 10)
	}
	chat, err := a.bot.ChatByUsername(ref)
	if err != nil {
		return kit.ChatInfo{}, err
	}
	if chat == nil {
		return kit.ChatInfo{}, errors.New("chat not found")
	}
	return kit.ChatInfo{
		ID:       chat.ID,
		Type:     string(chat.Type),
		Title:    chat.Title,
		Username: chat.Username,
	}, nil
}

func (a *Adapter) IsAdmin(ctx context.Context, chatID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if a.bot.Me == nil {
		return false, errors.New("bot identity unknown")
	}
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: chatID}, a.bot.Me)
	if err != nil {
		return false, err
	}
	return member.Role == tele.Administrator || member.Role == tele.Creator, nil
}

// SetCommands updates the bot menu. It only calls Telegram when the list
// differs from the last one set.
func (a *Adapter) SetCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		if r := []rune(d); len(r) > 256 {
			d = string(r[:256])
		}
		_, _ = h.Write([]byte(c.Command + "\x00" + d + "\x00"))
		out = append(out, tele.Command{Text: c.Command, Description: d})
		if len(out) >= 100 {
			break
		}
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}
