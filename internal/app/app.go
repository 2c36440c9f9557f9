package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"challengebot/internal/config"
	"challengebot/internal/delivery"
	"challengebot/internal/eventbus"
	rtsup "challengebot/internal/runtime/supervisor"
	"challengebot/internal/storage"
	"challengebot/internal/task/engine"
	"challengebot/internal/task/scheduler"
	kit "challengebot/internal/transport"
	telegram "challengebot/internal/transport/telegram/adapter"
	"challengebot/internal/transport/telegram/router"
	logx "challengebot/pkg/logx"
)

// ChatAdapter is the chat transport the app runs on. The Telegram adapter
// also carries log alerts.
type ChatAdapter interface {
	kit.Adapter
	logx.AlertSender
}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter ChatAdapter
	engine  *engine.Service
	sched   *scheduler.Service
	sender  *delivery.Sender
	router  *router.Router
	sups    *router.SupervisorRegistry

	updates chan kit.Update
}

// New loads the config at cfgPath and wires the Telegram bot.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(config.Validate)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return assemble(ctx, cfgm, cfg, ad)
}

// assemble builds every component for cfg on top of ad.
func assemble(ctx context.Context, cfgm *config.ConfigManager, cfg *config.Config, ad ChatAdapter) (_ *App, err error) {
	logSvc, root := logx.NewService(mapLogConfig(cfg), ad)
	log := root.With(logx.String("comp", "app"))

	var store storage.Store
	defer func() {
		if err == nil {
			return
		}
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err = storage.Open(ctx, sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	log.Info("storage ready", logx.String("driver", sc.Driver))

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	sessionTTL, err := config.ParseDurationOrDefault("telegram.session_ttl", cfg.Telegram.SessionTTL, config.DefaultSessionTTL)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	eng := engine.New(engCfg, root.With(logx.String("comp", "taskengine")), bus)
	sender := delivery.New(ad, mapDeliveryConfig(cfg), root.With(logx.String("comp", "delivery")))
	sched := scheduler.New(schedCfg, eng, sender, root.With(logx.String("comp", "scheduler")), bus)

	sups := router.NewSupervisorRegistry()
	workers := cfg.Telegram.HandlerWorkers
	if workers <= 0 {
		workers = config.DefaultHandlerWorkers
	}
	rt := router.New(root.With(logx.String("comp", "router")), ad, cfg.Telegram.OwnerUserIDs,
		router.WithWorkers(workers),
		router.WithSessionTTL(sessionTTL),
		router.WithSupervisors(sups),
	)
	router.NewBot(ad, router.Deps{
		Store:          store,
		Scheduler:      sched,
		Engine:         eng,
		Supervisors:    sups,
		Bus:            bus,
		SupportContact: cfg.Telegram.SupportContact,
	}).Install(rt)

	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		engine:  eng,
		sched:   sched,
		sender:  sender,
		router:  rt,
		sups:    sups,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context ends, by Stop or by a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the app supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start arms every stored schedule and begins serving updates.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	// Workers outlive the app context: Stop drains them, and only the
	// engine's own deadline cancels a delivery in flight.
	a.engine.Start(context.WithoutCancel(a.sup.Context()))
	if s := a.engine.Supervisor(); s != nil {
		a.sups.Set("task.engine", s)
	}

	recs, err := a.store.ListSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	n, err := a.sched.Rebuild(recs)
	if err != nil {
		if errors.Is(err, scheduler.ErrStopped) {
			return err
		}
		// Bad records are logged one by one; the rest still run.
		a.log.Warn("some schedules could not be armed", logx.Int("armed", n), logx.Int("records", len(recs)))
	}
	a.sched.Start()

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	if sp, ok := a.adapter.(interface{ Supervisor() *rtsup.Supervisor }); ok {
		if s := sp.Supervisor(); s != nil {
			a.sups.Set("telegram.adapter", s)
		}
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})
	a.sup.Go("eventbus.log", a.logEvents)
	a.sup.Go("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return watchdog(c, a.log)
	})

	notifySystemd(a.log, sdReady)
	a.log.Info("app started", logx.Int("jobs", a.sched.Snapshot().Jobs))
	return nil
}

// logEvents keeps an eye on the bus. Delivery failures are already logged
// where they happen; dropped tasks are counted and reported here.
func (a *App) logEvents(c context.Context) error {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch e.Type {
			case eventbus.TaskDropped:
				a.log.Warn("delivery task dropped", logx.Any("task", e.Data))
			default:
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}
}

func (a *App) reloadLoop(c context.Context) error {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return nil
		case next, ok := <-sub:
			if !ok {
				return nil
			}
			a.applyConfig(last, next)
			last = next
		}
	}
}

// applyConfig applies the live-reloadable parts of next.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	a.sender.SetLimits(mapDeliveryConfig(next))
	a.router.SetOwners(next.Telegram.OwnerUserIDs)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("restart required for some changes", logx.String("sections", strings.Join(restart, ",")))
	}
	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
}

// Stop shuts the app down in dependency order. Every step is bounded so
// one stuck component cannot hold the rest.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	notifySystemd(a.log, sdStopping)
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Triggers first so nothing new is queued, then the engine lets running
	// deliveries finish within its step.
	step("scheduler", 2*time.Second, a.sched.Shutdown)
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
