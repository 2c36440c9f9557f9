package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"challengebot/internal/challenge"
	"challengebot/internal/eventbus"
	"challengebot/internal/storage"
	kit "challengebot/internal/transport"
	logx "challengebot/pkg/logx"
)

const previewLen = 50

type Deps struct {
	Store       storage.Store
	Scheduler   SchedulerPort
	Engine      EnginePort
	Supervisors *SupervisorRegistry
	Bus         eventbus.Bus

	// SupportContact is shown under the greeting, e.g. "@admin".
	SupportContact string
}

// Bot implements the chat commands on top of the store and the scheduler.
type Bot struct {
	deps    Deps
	adapter kit.Adapter
}

func NewBot(adapter kit.Adapter, deps Deps) *Bot {
	return &Bot{deps: deps, adapter: adapter}
}

// Install registers the bot's handlers on r.
func (b *Bot) Install(r *Router) {
	r.SetRegistry(b.Commands(), b.Callbacks(), b.OnText)
}

func (b *Bot) Commands() []Command {
	return []Command{
		{Name: "start", Description: "Botni ishga tushirish", Handle: b.handleStart},
		{Name: "kanal_ulash", Description: "Kanal ulash", Handle: b.handleLink},
		{Name: "kanallarim", Description: "Ulangan kanallar", Handle: b.handleChannels},
		{Name: "send", Description: "Xabar rejalashtirish", Handle: b.handleSend},
		{Name: "rejalarim", Description: "Rejalashtirilgan xabarlar", Handle: b.handleSchedules},
		{Name: "cancel", Description: "Amaliyotni bekor qilish", Handle: b.handleCancel},
		{Name: "help", Description: "Yordam", Handle: b.handleHelp},
		{Name: "skip", Hidden: true, Handle: b.handleSkip},
		{Name: "status", Description: "Bot holati", Access: AccessOwnerOnly, Handle: b.handleStatus},
	}
}

func (b *Bot) Callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Prefix: "pick", Handle: b.onPickChannel},
		{Prefix: "date", Handle: b.onDateChoice},
		{Prefix: "sdel", Handle: b.onDeleteSchedule},
		{Prefix: "cdel", Handle: b.onDeleteChannel},
	}
}

func (b *Bot) reply(ctx context.Context, req *Request, text string, kb kit.Keyboard) error {
	var opt *kit.SendOptions
	if len(kb) > 0 {
		opt = &kit.SendOptions{Keyboard: kb}
	}
	_, err := b.adapter.SendText(ctx, req.Chat, text, opt)
	return err
}

// replace swaps the text of the message whose button was pressed, falling
// back to a new message.
func (b *Bot) replace(ctx context.Context, req *Request, text string) error {
	if cb := req.Update.Callback; cb != nil && cb.MessageID != 0 {
		err := b.adapter.EditText(ctx, kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}, text, nil)
		if err == nil {
			return nil
		}
		req.Logger.Debug("edit failed, sending instead", logx.Err(err))
	}
	return b.reply(ctx, req, text, nil)
}

func (b *Bot) publish(typ string, rec challenge.Schedule) {
	if b.deps.Bus != nil {
		b.deps.Bus.Publish(eventbus.Event{Type: typ, Data: rec})
	}
}

func (b *Bot) welcome(name string) string {
	if name == "" {
		name = "do'st"
	}
	text := fmt.Sprintf(textWelcome, name)
	if c := strings.TrimSpace(b.deps.SupportContact); c != "" {
		text += fmt.Sprintf(textSupport, c)
	}
	return text
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	req.Session.Reset()
	u := storage.User{ID: req.FromID, Username: req.FromUsername, FirstSeen: time.Now()}
	if err := b.deps.Store.UpsertUser(ctx, u); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	name := req.FromFirstName
	if name == "" {
		name = req.FromUsername
	}
	return b.reply(ctx, req, b.welcome(name), nil)
}

func (b *Bot) handleHelp(ctx context.Context, req *Request) error {
	return b.reply(ctx, req, b.welcome(req.FromFirstName), nil)
}

func (b *Bot) handleCancel(ctx context.Context, req *Request) error {
	if req.Session.State == StateIdle {
		return b.reply(ctx, req, textNothingToCancel, nil)
	}
	req.Session.Reset()
	return b.reply(ctx, req, textCancelled, nil)
}

// ---- channel linking ----

func (b *Bot) handleLink(ctx context.Context, req *Request) error {
	req.Session.Reset()
	req.Session.State = StateLinkChannel
	return b.reply(ctx, req, textLinkPrompt, nil)
}

func (b *Bot) linkChannel(ctx context.Context, req *Request) error {
	target, err := kit.ParseTarget(req.Text)
	if err != nil {
		return b.reply(ctx, req, fmt.Sprintf(textResolveError, err), nil)
	}
	info, err := b.adapter.ResolveChat(ctx, target)
	if err != nil {
		req.Logger.Info("channel lookup failed", logx.String("target", target.String()), logx.Err(err))
		return b.reply(ctx, req, fmt.Sprintf(textResolveError, err), nil)
	}
	admin, err := b.adapter.IsAdmin(ctx, info.ID)
	if err != nil {
		req.Logger.Info("admin check failed", logx.Int64("channel", info.ID), logx.Err(err))
		return b.reply(ctx, req, fmt.Sprintf(textResolveError, err), nil)
	}
	if !admin {
		req.Session.Reset()
		return b.reply(ctx, req, textNotAdmin, nil)
	}

	title := info.Title
	if title == "" {
		title = info.Username
	}
	ch, err := b.deps.Store.AddChannel(ctx, storage.Channel{
		OwnerID:   req.FromID,
		ChannelID: strconv.FormatInt(info.ID, 10),
		Title:     title,
	})
	if err != nil {
		return fmt.Errorf("link channel: %w", err)
	}
	req.Session.Reset()
	req.Logger.Info("channel linked", logx.Int64("channel_row", ch.ID), logx.String("channel", ch.ChannelID))
	return b.reply(ctx, req, fmt.Sprintf(textLinked, ch.Title, info.ID), nil)
}

func (b *Bot) handleChannels(ctx context.Context, req *Request) error {
	chans, err := b.deps.Store.ListChannels(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	if len(chans) == 0 {
		return b.reply(ctx, req, textNoChannels, nil)
	}
	if err := b.reply(ctx, req, strings.TrimSpace(textChannelsHeader), nil); err != nil {
		return err
	}
	for i, ch := range chans {
		username := textNoUsername
		if id, err := strconv.ParseInt(ch.ChannelID, 10, 64); err == nil {
			if info, err := b.adapter.ResolveChat(ctx, kit.ChatTarget{ChatID: id}); err == nil && info.Username != "" {
				username = "@" + strings.TrimPrefix(info.Username, "@")
			}
		}
		card := fmt.Sprintf(textChannelCard, i+1, ch.Title, username, ch.ChannelID)
		kb := kit.Keyboard{{{Text: textDeleteButton, Data: "cdel:" + strconv.FormatInt(ch.ID, 10)}}}
		if err := b.reply(ctx, req, card, kb); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) onDeleteChannel(ctx context.Context, req *Request) error {
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return b.replace(ctx, req, textChannelGone)
	}
	ch, err := b.deps.Store.GetChannel(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ch.OwnerID != req.FromID) {
		return b.replace(ctx, req, textChannelGone)
	}
	if err != nil {
		return fmt.Errorf("get channel %d: %w", id, err)
	}

	removed, err := b.deps.Store.DeleteChannel(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return b.replace(ctx, req, textChannelGone)
	}
	if err != nil {
		return fmt.Errorf("delete channel %d: %w", id, err)
	}
	for _, rec := range removed {
		b.deps.Scheduler.Unregister(rec.OwnerID, rec.ChannelID, rec.TimeOfDay)
		b.publish(eventbus.ScheduleDeleted, rec)
	}
	req.Logger.Info("channel removed", logx.String("channel", ch.ChannelID), logx.Int("schedules", len(removed)))
	return b.replace(ctx, req, textChannelDeleted)
}

// ---- /send conversation ----

func (b *Bot) handleSend(ctx context.Context, req *Request) error {
	req.Session.Reset()
	chans, err := b.deps.Store.ListChannels(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	if len(chans) == 0 {
		return b.reply(ctx, req, textNeedChannel, nil)
	}
	req.Session.State = StatePickChannel
	return b.reply(ctx, req, textPickChannel, channelPicker(chans))
}

func channelPicker(chans []storage.Channel) kit.Keyboard {
	kb := make(kit.Keyboard, 0, len(chans))
	for _, ch := range chans {
		title := ch.Title
		if title == "" {
			title = ch.ChannelID
		}
		kb = append(kb, []kit.Button{{Text: "📢 " + title, Data: "pick:" + strconv.FormatInt(ch.ID, 10)}})
	}
	return kb
}

func (b *Bot) onPickChannel(ctx context.Context, req *Request) error {
	if req.Session.State != StatePickChannel {
		return nil
	}
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return nil
	}
	ch, err := b.deps.Store.GetChannel(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ch.OwnerID != req.FromID) {
		req.Session.Reset()
		return b.replace(ctx, req, textChannelGone)
	}
	if err != nil {
		return fmt.Errorf("get channel %d: %w", id, err)
	}

	req.Session.Draft.ChannelID = ch.ChannelID
	req.Session.Draft.ChannelTitle = ch.Title
	req.Session.State = StateEnterMessage
	today := b.deps.Scheduler.Now().Format("02.01.2006")
	return b.replace(ctx, req, fmt.Sprintf(textEnterMessage, ch.Title, today))
}

func (b *Bot) onDateChoice(ctx context.Context, req *Request) error {
	if req.Session.State != StateConfirmDate {
		return nil
	}
	switch req.Payload {
	case "yes":
		req.Session.Draft.WithDate = true
		req.Session.State = StateEnterEndDate
		example := b.deps.Scheduler.Now().AddDate(0, 0, 30).Format(challenge.DateLayout)
		return b.replace(ctx, req, fmt.Sprintf(textEnterEndDate, example))
	case "no":
		req.Session.Draft.WithDate = false
		return b.finish(ctx, req, "")
	}
	return nil
}

func (b *Bot) handleSkip(ctx context.Context, req *Request) error {
	if req.Session.State != StateEnterEndDate {
		return b.reply(ctx, req, textNothingToSkip, nil)
	}
	return b.finish(ctx, req, "")
}

// OnText handles plain messages according to the user's conversation step.
func (b *Bot) OnText(ctx context.Context, req *Request) error {
	sess := req.Session
	switch sess.State {
	case StateLinkChannel:
		return b.linkChannel(ctx, req)

	case StatePickChannel:
		chans, err := b.deps.Store.ListChannels(ctx, req.FromID)
		if err != nil {
			return fmt.Errorf("list channels: %w", err)
		}
		if len(chans) == 0 {
			sess.Reset()
			return b.reply(ctx, req, textNeedChannel, nil)
		}
		return b.reply(ctx, req, textPickChannel, channelPicker(chans))

	case StateEnterMessage:
		if req.Text == "" {
			return b.reply(ctx, req, textEmptyMessage, nil)
		}
		sess.Draft.Message = req.Text
		sess.State = StateEnterTime
		return b.reply(ctx, req, textEnterTime, nil)

	case StateEnterTime:
		tod, err := challenge.NormalizeTimeOfDay(req.Text)
		if err != nil {
			return b.reply(ctx, req, textBadTime, nil)
		}
		sess.Draft.TimeOfDay = tod
		sess.State = StateConfirmDate
		return b.reply(ctx, req, textAskDate, dateKeyboard())

	case StateConfirmDate:
		return b.reply(ctx, req, textAskDate, dateKeyboard())

	case StateEnterEndDate:
		end, err := challenge.ValidateEndDate(req.Text, b.deps.Scheduler.Now())
		if err != nil {
			return b.reply(ctx, req, textBadEndDate, nil)
		}
		return b.finish(ctx, req, end)
	}
	return b.reply(ctx, req, textUseCommands, nil)
}

func dateKeyboard() kit.Keyboard {
	return kit.Keyboard{{{Text: textYes, Data: "date:yes"}, {Text: textNo, Data: "date:no"}}}
}

// finish stores the drafted schedule and arms its job. A schedule that
// cannot be armed is removed again so the store never holds a dead entry.
func (b *Bot) finish(ctx context.Context, req *Request, endDate string) error {
	d := req.Session.Draft
	req.Session.Reset()

	today := b.deps.Scheduler.Now()
	rec, err := b.deps.Store.CreateSchedule(ctx, challenge.Schedule{
		OwnerID:   req.FromID,
		ChannelID: d.ChannelID,
		Message:   d.Message,
		TimeOfDay: d.TimeOfDay,
		WithDate:  d.WithDate,
		StartDate: today.Format(challenge.DateLayout),
		EndDate:   endDate,
	})
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}

	if err := b.deps.Scheduler.Register(rec); err != nil {
		req.Logger.Error("schedule not armed", logx.Int64("schedule_id", rec.ID), logx.Err(err))
		if derr := b.deps.Store.DeleteSchedule(context.WithoutCancel(ctx), rec.ID); derr != nil {
			req.Logger.Error("rollback of unarmed schedule failed", logx.Int64("schedule_id", rec.ID), logx.Err(derr))
		}
		return b.reply(ctx, req, textArmFailed, nil)
	}
	req.Logger.Info("schedule created",
		logx.Int64("schedule_id", rec.ID),
		logx.String("channel", rec.ChannelID),
		logx.String("time", rec.TimeOfDay),
		logx.Bool("with_date", rec.WithDate),
	)
	b.publish(eventbus.ScheduleCreated, rec)

	withDate := textNo
	if rec.WithDate {
		withDate = textYes
	}
	text := fmt.Sprintf(textCreated, d.ChannelTitle, rec.TimeOfDay, withDate, rec.ID, rec.TimeOfDay)
	if rec.EndDate != "" {
		text += fmt.Sprintf(textCreatedEnd, rec.EndDate)
	}
	return b.replaceOrReply(ctx, req, text)
}

func (b *Bot) replaceOrReply(ctx context.Context, req *Request, text string) error {
	if req.IsCallback() {
		return b.replace(ctx, req, text)
	}
	return b.reply(ctx, req, text, nil)
}

// ---- schedules ----

type scheduleKey struct {
	channel, message, time, start string
}

// uniqueSchedules drops repeated records with the same channel, message,
// time and start date, keeping the first.
func uniqueSchedules(recs []challenge.Schedule) []challenge.Schedule {
	seen := make(map[scheduleKey]bool, len(recs))
	out := recs[:0:0]
	for _, r := range recs {
		k := scheduleKey{r.ChannelID, r.Message, r.TimeOfDay, r.StartDate}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}

func dateLabel(rec challenge.Schedule) string {
	if !rec.WithDate {
		return textNo
	}
	if rec.EndDate != "" {
		return fmt.Sprintf("%s (%s → %s)", textYes, rec.StartDate, rec.EndDate)
	}
	return fmt.Sprintf("%s (%s)", textYes, rec.StartDate)
}

func (b *Bot) handleSchedules(ctx context.Context, req *Request) error {
	recs, err := b.deps.Store.ListSchedulesByOwner(ctx, req.FromID)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}
	recs = uniqueSchedules(recs)
	if len(recs) == 0 {
		return b.reply(ctx, req, textNoSchedules, nil)
	}

	titles := map[string]string{}
	if chans, err := b.deps.Store.ListChannels(ctx, req.FromID); err == nil {
		for _, ch := range chans {
			titles[ch.ChannelID] = ch.Title
		}
	}

	if err := b.reply(ctx, req, strings.TrimSpace(textSchedulesHeader), nil); err != nil {
		return err
	}
	for _, rec := range recs {
		title := titles[rec.ChannelID]
		if title == "" {
			title = rec.ChannelID
		}
		card := fmt.Sprintf(textScheduleCard, rec.ID, title, rec.TimeOfDay, dateLabel(rec), preview(rec.Message))
		kb := kit.Keyboard{{{
			Text: fmt.Sprintf(textScheduleButton, rec.ID),
			Data: "sdel:" + strconv.FormatInt(rec.ID, 10),
		}}}
		if err := b.reply(ctx, req, card, kb); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) onDeleteSchedule(ctx context.Context, req *Request) error {
	id, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return b.replace(ctx, req, textScheduleGone)
	}
	rec, err := b.deps.Store.GetSchedule(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && rec.OwnerID != req.FromID) {
		return b.replace(ctx, req, textScheduleGone)
	}
	if err != nil {
		return fmt.Errorf("get schedule %d: %w", id, err)
	}
	if err := b.deps.Store.DeleteSchedule(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return b.replace(ctx, req, textScheduleGone)
		}
		return fmt.Errorf("delete schedule %d: %w", id, err)
	}

	b.deps.Scheduler.Unregister(rec.OwnerID, rec.ChannelID, rec.TimeOfDay)
	b.rearmSameKey(ctx, req, rec)
	b.publish(eventbus.ScheduleDeleted, rec)
	req.Logger.Info("schedule removed", logx.Int64("schedule_id", id))
	return b.replace(ctx, req, textScheduleDeleted)
}

// rearmSameKey re-registers the newest remaining schedule that shares the
// deleted one's owner, channel and time, since both were served by one job.
func (b *Bot) rearmSameKey(ctx context.Context, req *Request, gone challenge.Schedule) {
	recs, err := b.deps.Store.ListSchedulesByOwner(ctx, gone.OwnerID)
	if err != nil {
		req.Logger.Warn("re-arm lookup failed", logx.Err(err))
		return
	}
	var last *challenge.Schedule
	for i := range recs {
		r := &recs[i]
		if r.ChannelID == gone.ChannelID && r.TimeOfDay == gone.TimeOfDay {
			last = r
		}
	}
	if last == nil {
		return
	}
	if err := b.deps.Scheduler.Register(*last); err != nil {
		req.Logger.Error("re-arm failed", logx.Int64("schedule_id", last.ID), logx.Err(err))
	}
}

// ---- owner ----

func (b *Bot) handleStatus(ctx context.Context, req *Request) error {
	var sb strings.Builder
	sb.WriteString("📊 Holat\n\n")

	if b.deps.Scheduler != nil {
		st := b.deps.Scheduler.Snapshot()
		fmt.Fprintf(&sb, "⏰ Rejalar: %d (%s)\n", st.Jobs, st.Timezone)
		fmt.Fprintf(&sb, "📤 Yuborildi: %d, xato: %d, ishga tushdi: %d, navbat xatosi: %d\n",
			st.Sent, st.Failed, st.Fired, st.EnqueueErrors)
	}
	if b.deps.Engine != nil {
		es := b.deps.Engine.Snapshot()
		fmt.Fprintf(&sb, "\n⚙️ Navbat: %d/%d, ishchilar: %d, bajarilmoqda: %d\n", es.QueueLen, es.QueueCap, es.Workers, es.InFlight)
		fmt.Fprintf(&sb, "✅ Bajarildi: %d, ❌ xato: %d, tashlab yuborildi: %d/%d\n",
			es.Completed, es.Failed, es.DroppedQueueFull, es.DroppedStale)
		if n := len(es.History); n > 0 {
			last := es.History[n-1]
			status := "ok"
			if last.Error != "" {
				status = last.Error
			}
			fmt.Fprintf(&sb, "🕘 Oxirgi: %s, %s, %s\n", last.Name, last.Duration.Round(time.Millisecond), status)
		}
	}
	if stats := b.deps.Supervisors.Stats(); len(stats) > 0 {
		sb.WriteString("\n🧩 Supervisorlar:\n")
		for _, s := range stats {
			line := fmt.Sprintf("• %s: faol %d, jami %d", s.Name, s.Active, s.Started)
			if s.Err != nil {
				line += ", xato: " + s.Err.Error()
			}
			sb.WriteString(line + "\n")
		}
	}
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"), nil)
}
