package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"challengebot/internal/task/engine"
)

// manualTrigger is a cron stand-in whose clock only moves on Advance.
type manualTrigger struct {
	mu      sync.Mutex
	now     time.Time
	seq     cron.EntryID
	entries map[cron.EntryID]*manualEntry
	started bool
	stopped bool
}

type manualEntry struct {
	sched cron.Schedule
	job   cron.Job
	next  time.Time
	prev  time.Time
}

func newManualTrigger(now time.Time) *manualTrigger {
	return &manualTrigger{now: now, entries: map[cron.EntryID]*manualEntry{}}
}

func (m *manualTrigger) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualTrigger) Schedule(s cron.Schedule, j cron.Job) cron.EntryID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.entries[m.seq] = &manualEntry{sched: s, job: j, next: s.Next(m.now)}
	return m.seq
}

func (m *manualTrigger) Remove(id cron.EntryID) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

func (m *manualTrigger) Entry(id cron.EntryID) cron.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return cron.Entry{}
	}
	return cron.Entry{ID: id, Schedule: e.sched, Next: e.next, Prev: e.prev, Job: e.job}
}

func (m *manualTrigger) Start() {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
}

func (m *manualTrigger) Stop() context.Context {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (m *manualTrigger) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Job returns the callback of an entry, for replaying a tick by hand.
func (m *manualTrigger) Job(id cron.EntryID) cron.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return e.job
	}
	return nil
}

// Advance moves the clock to t, running every due entry in time order the
// way cron would.
func (m *manualTrigger) Advance(t time.Time) {
	for {
		m.mu.Lock()
		var due *manualEntry
		var dueID cron.EntryID
		for id, e := range m.entries {
			if e.next.IsZero() || e.next.After(t) {
				continue
			}
			if due == nil || e.next.Before(due.next) || (e.next.Equal(due.next) && id < dueID) {
				due, dueID = e, id
			}
		}
		if due == nil {
			m.now = t
			m.mu.Unlock()
			return
		}
		m.now = due.next
		due.prev = due.next
		due.next = due.sched.Next(due.next)
		j := due.job
		m.mu.Unlock()
		j.Run()
	}
}

// inlineDispatcher runs each task on the caller's goroutine.
type inlineDispatcher struct {
	mu    sync.Mutex
	names []string
}

func (d *inlineDispatcher) Enqueue(t engine.Task) error {
	d.mu.Lock()
	d.names = append(d.names, t.Name)
	d.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), t.Timeout)
	defer cancel()
	return t.Run(ctx)
}

type rejectingDispatcher struct{}

func (rejectingDispatcher) Enqueue(engine.Task) error { return engine.ErrQueueFull }

type sentMessage struct {
	ChannelID string
	Text      string
}

// stubSender records sends and fails the calls listed in failOn (1-based).
type stubSender struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
	sent   []sentMessage
	block  map[string]bool
	notify chan sentMessage
}

func (s *stubSender) Send(ctx context.Context, channelID, text string) error {
	s.mu.Lock()
	s.calls++
	n := s.calls
	blocked := s.block[channelID]
	s.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.failOn[n] {
		return errors.New("transport unavailable")
	}
	m := sentMessage{ChannelID: channelID, Text: text}
	s.mu.Lock()
	s.sent = append(s.sent, m)
	s.mu.Unlock()
	if s.notify != nil {
		s.notify <- m
	}
	return nil
}

func (s *stubSender) Sent() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

func (s *stubSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
