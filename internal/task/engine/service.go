package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"challengebot/internal/eventbus"
	rtsup "challengebot/internal/runtime/supervisor"
	logx "challengebot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service is a fixed-size worker pool fed by a bounded queue.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q       chan queuedTask
	stopCh  chan struct{}
	sup     *rtsup.Supervisor
	stopped chan struct{} // non-nil while a Stop is in progress

	inFlight atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem

	completed        atomic.Uint64
	failed           atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64

	lastQueueFullWarn atomic.Int64
	lastStaleWarn     atomic.Int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), log: log, bus: bus}
}

// Start launches the workers. Calling it on a running engine is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}

	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskengine"))),
		rtsup.WithCancelOnError(false),
	)

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		queue, stopCh := s.q, s.stopCh
		s.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return nil
			}
			return errors.New("worker exited unexpectedly")
		})
	}

	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop stops taking work and waits for running tasks to finish. When ctx
// ends first, running tasks are canceled. Queued tasks that never started
// are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopped != nil {
		done := s.stopped
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopped = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	err := sup.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		s.log.Warn("task engine stop timed out, canceling running tasks", logx.Int("in_flight", int(s.inFlight.Load())))
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}

	s.mu.Lock()
	s.q = nil
	s.stopCh = nil
	s.sup = nil
	s.stopped = nil
	s.mu.Unlock()
	close(done)
	s.log.Info("task engine stopped")
}

// Enqueue hands t to the pool without blocking. A full queue drops the task
// and returns ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	return s.enqueue(context.Background(), t, false)
}

// Submit waits for queue space until ctx ends or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error {
	return s.enqueue(ctx, t, true)
}

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return fmt.Errorf("%w: Run is nil", ErrInvalid)
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return fmt.Errorf("%w: Name is required", ErrInvalid)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	q, stopCh, stopping, cfg := s.q, s.stopCh, s.stopped != nil, s.cfg
	s.mu.Unlock()

	if q == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}
	qt := queuedTask{task: t, enqueuedAt: time.Now(), timeout: timeout}

	if !block {
		select {
		case q <- qt:
			return nil
		default:
			s.onQueueFull(t, q)
			return ErrQueueFull
		}
	}
	select {
	case q <- qt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopCh:
		return ErrStopping
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q, running := s.cfg, s.q, s.stopCh != nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:          running,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		Completed:        s.completed.Load(),
		Failed:           s.failed.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func shouldWarn(last *atomic.Int64, now time.Time) bool {
	prev := last.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return false
	}
	return last.CompareAndSwap(prev, now.UnixNano())
}

func (s *Service) onQueueFull(t Task, q chan queuedTask) {
	n := s.droppedQueueFull.Add(1)
	s.publish(eventbus.TaskDropped, TaskEvent{ID: t.ID, Name: t.Name, Error: "queue_full"})
	if shouldWarn(&s.lastQueueFullWarn, time.Now()) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", n),
		)
	}
}

func (s *Service) onStale(t Task, delay time.Duration) {
	n := s.droppedStale.Add(1)
	s.publish(eventbus.TaskDropped, TaskEvent{ID: t.ID, Name: t.Name, QueueDelay: delay, Error: "stale_queue_delay"})
	s.record(HistoryItem{ID: t.ID, Name: t.Name, Started: time.Now(), QueueDelay: delay, Error: "stale_queue_delay"})
	if shouldWarn(&s.lastStaleWarn, time.Now()) {
		s.log.Warn("task dropped: waited too long in queue",
			logx.String("task", t.Name),
			logx.Duration("queue_delay", delay),
			logx.Uint64("dropped_stale", n),
		)
	}
}

// Supervisor returns the worker supervisor while the engine runs, or nil.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}
