package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the bot.
const (
	JobRegistered   = "job.registered"
	JobRemoved      = "job.removed"
	JobFired        = "job.fired"
	DeliverySent    = "delivery.sent"
	DeliveryFailed  = "delivery.failed"
	TaskDropped     = "task.dropped"
	TaskFinished    = "task.finished"
	TaskFailed      = "task.failed"
	ConfigReloaded  = "config.reloaded"
	ScheduleCreated = "schedule.created"
	ScheduleDeleted = "schedule.deleted"
)

// Event is a small in-process signal. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe receives every event whose type starts with one of the
	// prefixes, or every event when no prefix is given.
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch       chan Event
	prefixes []string
	closed   bool
}

func (s *sub) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.closed || !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so closing under the
			// write lock cannot race with a send.
			b.mu.Lock()
			delete(b.subs, id)
			s.closed = true
			close(s.ch)
			b.mu.Unlock()
		})
	}
}
