package adapter

import (
	"context"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "challengebot/internal/transport"
)

const telegramTextLimit = 4000

// recipient lets telebot address a chat by @username as well as by id.
type recipient string

func (r recipient) Recipient() string { return string(r) }

func recipientOf(to kit.ChatTarget) tele.Recipient {
	if to.Username != "" {
		return recipient(to.Username)
	}
	return recipient(strconv.FormatInt(to.ChatID, 10))
}

func markupOf(kb kit.Keyboard) *tele.ReplyMarkup {
	if len(kb) == 0 {
		return nil
	}
	rows := make([][]tele.InlineButton, 0, len(kb))
	for _, row := range kb {
		r := make([]tele.InlineButton, 0, len(row))
		for _, b := range row {
			r = append(r, tele.InlineButton{Text: b.Text, Data: b.Data})
		}
		rows = append(rows, r)
	}
	return &tele.ReplyMarkup{InlineKeyboard: rows}
}

// splitTelegramText splits long messages into chunks Telegram accepts,
// preferring newline boundaries. In HTML mode it avoids cutting inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid tiny chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(opt *kit.SendOptions, withMarkup bool) *tele.SendOptions {
	so := &tele.SendOptions{
		ParseMode:             tele.ParseMode(opt.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
	}
	if withMarkup {
		so.ReplyMarkup = markupOf(opt.Keyboard)
	}
	return so
}

// SendText sends text, split into several messages when it is too long.
// The keyboard goes on the first part. The reference of the first part is
// returned even when a later part fails.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	rcpt := recipientOf(to)

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(rcpt, chunk, sendOptions(opt, i == 0))
		if err != nil {
			return first, err
		}
		if i == 0 && msg != nil {
			first = kit.MessageRef{MessageID: msg.ID, ChatID: to.ChatID}
			if msg.Chat != nil {
				first.ChatID = msg.Chat.ID
			}
		}
	}
	return first, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chunks := splitTelegramText(text, telegramTextLimit, opt.ParseMode)

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	if _, err := a.bot.Edit(m, chunks[0], sendOptions(opt, true)); err != nil {
		return err
	}
	// Overflow goes out as new messages.
	chat := &tele.Chat{ID: ref.ChatID}
	for _, chunk := range chunks[1:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, sendOptions(opt, false)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// SendAlert delivers a plain log alert; it satisfies logx.AlertSender.
func (a *Adapter) SendAlert(ctx context.Context, chatID int64, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}
