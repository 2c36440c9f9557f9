package scheduler

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"challengebot/internal/eventbus"
	logx "challengebot/pkg/logx"
)

const defaultDeliveryTimeout = 30 * time.Second

var dailyParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Service owns the job table. Create one with New; the zero value is not
// usable.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	log     logx.Logger
	bus     eventbus.Bus
	disp    Dispatcher
	sender  Sender
	now     func() time.Time
	trig    trigger
	jobs    map[JobKey]*job
	stopped bool

	fired         atomic.Uint64
	sent          atomic.Uint64
	failed        atomic.Uint64
	enqueueErrors atomic.Uint64

	enqMu       sync.Mutex
	lastEnqWarn map[JobKey]time.Time
}

type Option func(*Service)

// WithClock replaces time.Now. The clock decides which calendar day a
// firing renders.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation overrides Config.Timezone.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

func withTrigger(t trigger) Option {
	return func(s *Service) { s.trig = t }
}

func New(cfg Config, disp Dispatcher, sender Sender, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}
	s := &Service{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		disp:        disp,
		sender:      sender,
		now:         time.Now,
		jobs:        map[JobKey]*job{},
		lastEnqWarn: map[JobKey]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.loc == nil {
		s.loc = loadLocation(cfg.Timezone, log)
	}
	if s.trig == nil {
		cl := cronLogger{log: log}
		s.trig = cron.New(
			cron.WithParser(dailyParser),
			cron.WithLocation(s.loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		)
	}
	return s
}

func loadLocation(name string, log logx.Logger) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn("invalid timezone, using host zone", logx.String("tz", name), logx.Err(err))
		return time.Local
	}
	return loc
}

// Location is the zone every job fires in.
func (s *Service) Location() *time.Location { return s.loc }

// Now is the scheduler clock in its own zone.
func (s *Service) Now() time.Time { return s.now().In(s.loc) }

// Start begins firing. Jobs registered earlier arm at that point.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.trig.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

// Shutdown disarms every job and waits, bounded by ctx, for tick callbacks
// that are already running. Deliveries already handed to the dispatcher
// are left to it.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, j := range s.jobs {
		s.trig.Remove(j.entryID)
	}
	n := len(s.jobs)
	s.jobs = map[JobKey]*job{}
	trig := s.trig
	s.mu.Unlock()

	s.enqMu.Lock()
	clear(s.lastEnqWarn)
	s.enqMu.Unlock()

	select {
	case <-trig.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler shutdown timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
	s.log.Info("scheduler stopped", logx.Int("jobs_disarmed", n))
	return nil
}

func (s *Service) Snapshot() Stats {
	s.mu.Lock()
	n := len(s.jobs)
	s.mu.Unlock()
	return Stats{
		Timezone:      s.loc.String(),
		Jobs:          n,
		Fired:         s.fired.Load(),
		Sent:          s.sent.Load(),
		Failed:        s.failed.Load(),
		EnqueueErrors: s.enqueueErrors.Load(),
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}

func trim(s string) string { return strings.TrimSpace(s) }

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
