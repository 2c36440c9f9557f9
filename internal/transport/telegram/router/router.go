package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "challengebot/internal/runtime/supervisor"
	kit "challengebot/internal/transport"
	logx "challengebot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string // without the leading slash
	Description string
	Access      Access
	Hidden      bool // registered but kept out of the menu
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline button data of the form "<prefix>:<payload>".
type CallbackRoute struct {
	Prefix  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update kit.Update
	Chat   kit.ChatTarget
	FromID int64

	FromUsername  string
	FromFirstName string

	Command string   // "/send", "cb:pick", "text"
	Args    []string // words after the command
	Text    string   // full message text
	Payload string   // callback payload after the prefix

	ReqID   string
	Logger  logx.Logger
	Session *Session
}

// IsCallback reports whether the request came from an inline button.
func (r *Request) IsCallback() bool { return r.Update.Kind == kit.UpdateCallback }

// Router turns updates into handler calls on a bounded worker pool.
type Router struct {
	mu        sync.RWMutex
	commands  map[string]Command
	callbacks map[string]CallbackRoute
	onText    HandlerFunc
	owners    []int64

	log      logx.Logger
	adapter  kit.Adapter
	sessions *Sessions
	sups     *SupervisorRegistry
	workers  int
	timeout  time.Duration

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

type Option func(*Router)

func WithWorkers(n int) Option { return func(r *Router) { r.workers = n } }

func WithSessionTTL(d time.Duration) Option {
	return func(r *Router) { r.sessions = NewSessions(d) }
}

// WithSupervisors registers the dispatcher's supervisor for /status.
func WithSupervisors(reg *SupervisorRegistry) Option { return func(r *Router) { r.sups = reg } }

// WithDefaultTimeout bounds handlers that set no timeout of their own.
func WithDefaultTimeout(d time.Duration) Option { return func(r *Router) { r.timeout = d } }

func New(log logx.Logger, adapter kit.Adapter, owners []int64, opts ...Option) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		commands:  map[string]Command{},
		callbacks: map[string]CallbackRoute{},
		owners:    append([]int64(nil), owners...),
		log:       log,
		adapter:   adapter,
		sessions:  NewSessions(30 * time.Minute),
		workers:   8,
		timeout:   30 * time.Second,
		jobs:      make(chan func(), 256),
	}
	for _, o := range opts {
		o(r)
	}
	if r.workers <= 0 {
		r.workers = 8
	}
	return r
}

func (m *Router) Sessions() *Sessions { return m.sessions }

// SetOwners updates the owner list. Safe during hot reload.
func (m *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *Router) isOwner(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.owners {
		if o == id {
			return true
		}
	}
	return false
}

// SetRegistry installs the handlers and pushes the public commands to the
// chat menu in the background.
func (m *Router) SetRegistry(cmds []Command, cbs []CallbackRoute, onText HandlerFunc) {
	cm := make(map[string]Command, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.Name), "/"))
		if name == "" || c.Handle == nil {
			continue
		}
		cm[name] = c
	}
	cb := make(map[string]CallbackRoute, len(cbs))
	for _, r := range cbs {
		p := strings.TrimSpace(r.Prefix)
		if p == "" || r.Handle == nil {
			continue
		}
		cb[p] = r
	}

	m.mu.Lock()
	m.commands = cm
	m.callbacks = cb
	m.onText = onText
	m.mu.Unlock()

	menu := buildMenu(cmds)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.adapter.SetCommands(ctx, menu); err != nil {
			m.log.Warn("menu update failed", logx.Err(err))
		}
	}()
}

// tryEnqueue is safe against the jobs channel being closed.
func (m *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx ends or updates closes.
func (m *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.runMu.Lock()
	m.sup, m.running = sup, true
	m.runMu.Unlock()
	m.sups.Set("telegram.router", sup)

	m.log.Info("dispatcher started", logx.Int("workers", m.workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.workers; i++ {
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-m.jobs:
					if !ok {
						return nil
					}
					m.runJob(idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	sup.Go("router.session_sweep", func(c context.Context) error {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				if n := m.sessions.Sweep(); n > 0 {
					m.log.Debug("idle sessions dropped", logx.Int("count", n))
				}
			}
		}
	})

	defer func() {
		m.runMu.Lock()
		m.running = false
		m.runMu.Unlock()
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.sups.Delete("telegram.router")
		m.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeUpdate(ctx, up)
		}
	}
}

func (m *Router) runJob(worker int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in router job", logx.Int("worker", worker), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	job()
}

func (m *Router) routeUpdate(ctx context.Context, up kit.Update) {
	job := m.prepare(ctx, up)
	if job == nil {
		return
	}
	if m.tryEnqueue(job) {
		return
	}
	switch {
	case up.Callback != nil:
		_ = m.adapter.AnswerCallback(ctx, up.Callback.ID, textBusy)
	case up.Message != nil:
		_, _ = m.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID}, textBusy, nil)
	}
}

// prepare resolves the handler for up and returns the work to run, or nil
// when there is nothing to do. Access denials are answered here.
func (m *Router) prepare(ctx context.Context, up kit.Update) func() {
	switch up.Kind {
	case kit.UpdateMessage:
		return m.prepareMessage(ctx, up)
	case kit.UpdateCallback:
		return m.prepareCallback(ctx, up)
	}
	return nil
}

func (m *Router) prepareMessage(ctx context.Context, up kit.Update) func() {
	msg := up.Message
	if msg == nil {
		return nil
	}
	req := &Request{
		Update:        up,
		Chat:          kit.ChatTarget{ChatID: msg.ChatID},
		FromID:        msg.FromID,
		FromUsername:  msg.FromUsername,
		FromFirstName: msg.FromFirstName,
		Text:          strings.TrimSpace(msg.Text),
	}

	var (
		h       HandlerFunc
		timeout time.Duration
	)
	if name := msg.Command(); name != "" {
		m.mu.RLock()
		cmd, ok := m.commands[strings.TrimPrefix(name, "/")]
		m.mu.RUnlock()
		if !ok {
			_, _ = m.adapter.SendText(ctx, req.Chat, textUnknownCommand, nil)
			return nil
		}
		if cmd.Access == AccessOwnerOnly && !m.isOwner(msg.FromID) {
			_, _ = m.adapter.SendText(ctx, req.Chat, textUnauthorized, nil)
			return nil
		}
		req.Command = name
		req.Args = strings.Fields(req.Text)[1:]
		h, timeout = cmd.Handle, cmd.Timeout
	} else {
		// Conversations only run in private chats.
		if !msg.IsPrivate {
			return nil
		}
		m.mu.RLock()
		h = m.onText
		m.mu.RUnlock()
		if h == nil {
			return nil
		}
		req.Command = "text"
	}
	return m.job(ctx, req, h, timeout, nil)
}

func (m *Router) prepareCallback(ctx context.Context, up kit.Update) func() {
	cb := up.Callback
	if cb == nil {
		return nil
	}
	prefix, payload, _ := strings.Cut(strings.TrimSpace(cb.Data), ":")

	m.mu.RLock()
	route, ok := m.callbacks[prefix]
	m.mu.RUnlock()
	if !ok {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, "")
		return nil
	}
	if route.Access == AccessOwnerOnly && !m.isOwner(cb.FromID) {
		_ = m.adapter.AnswerCallback(ctx, cb.ID, textUnauthorized)
		return nil
	}
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: cb.ChatID},
		FromID:  cb.FromID,
		Command: "cb:" + prefix,
		Payload: payload,
	}
	// Stop the button spinner once the handler is done.
	after := func(ctx context.Context) { _ = m.adapter.AnswerCallback(ctx, cb.ID, "") }
	return m.job(ctx, req, route.Handle, route.Timeout, after)
}

// job wraps h with the middleware chain and the user's session lock.
func (m *Router) job(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration, after func(context.Context)) func() {
	if timeout <= 0 {
		timeout = m.timeout
	}
	req.ReqID = uuid.NewString()[:8]
	req.Logger = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("cmd", req.Command),
	)
	final := Chain(h,
		MWRequestLog(m.log),
		MWReplyOnError(m.replyText),
		MWPanicRecover(m.log),
		MWTimeout(timeout),
	)
	return func() {
		sess := m.sessions.Acquire(req.FromID)
		defer m.sessions.Release(sess)
		req.Session = sess
		_ = final(ctx, req)
		if after != nil {
			after(ctx)
		}
	}
}

func (m *Router) replyText(ctx context.Context, req *Request, text string) {
	if _, err := m.adapter.SendText(ctx, req.Chat, text, nil); err != nil {
		req.Logger.Warn("reply failed", logx.Err(err))
	}
}
