package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"medremind/internal/config"
	"medremind/internal/eventbus"
	"medremind/internal/notifier"
	"medremind/internal/observability/pprof"
	"medremind/internal/reminder"
	"medremind/internal/runtime/supervisor"
	"medremind/internal/storage"
	"medremind/internal/task/engine"
	"medremind/internal/task/scheduler"
	logx "medremind/pkg/logx"
	"medremind/pkg/systemd"
)

// Agent is reported by the health endpoint.
const Agent = "Reminder Agent"

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor
	opt  options

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store        storage.Store
	storeDriver  string
	storeHealthy atomic.Bool

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	reminders *reminder.Service
	pprof     *pprof.Service

	started atomic.Bool
}

type options struct {
	stderrLogs     bool
	notifierOpts   []notifier.Option
	housekeepEvery time.Duration
	disableWatch   bool
}

type Option func(*options)

// WithStderrLogging routes console logs to stderr (MCP stdio mode).
func WithStderrLogging() Option { return func(o *options) { o.stderrLogs = true } }

// WithNotifierOptions passes options to the notifier, e.g. a test sender.
func WithNotifierOptions(opts ...notifier.Option) Option {
	return func(o *options) { o.notifierOpts = append(o.notifierOpts, opts...) }
}

// WithHousekeepingInterval overrides how often the store is pinged.
func WithHousekeepingInterval(d time.Duration) Option {
	return func(o *options) { o.housekeepEvery = d }
}

// WithoutConfigWatch disables hot reload.
func WithoutConfigWatch() Option { return func(o *options) { o.disableWatch = true } }

// NewApp loads the config, builds every component and opens the store. An
// unreachable store is not fatal: the app starts degraded and connects later.
// Nothing runs until Start.
func NewApp(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	opt := options{housekeepEvery: time.Minute}
	for _, o := range opts {
		o(&opt)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg, opt.stderrLogs))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.OpenLazy(ctx, sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	engCfg, _ := mapTaskEngineConfig(cfg)
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	schedSvc := scheduler.New(mapSchedulerConfig(cfg), engineSvc, log.With(logx.String("comp", "scheduler")))

	ncfg, _ := mapNotifierConfig(cfg)
	notifSvc := notifier.New(ncfg, log.With(logx.String("comp", "notifier")), bus, opt.notifierOpts...)

	remSvc := reminder.NewService(store, schedSvc, notifSvc, log.With(logx.String("comp", "reminders")), bus, reminder.Options{
		DefaultTimezone: cfg.Reminders.DefaultTimezone,
		StoreTimeout:    sc.OpTimeout,
		FireTimeout:     engCfg.DefaultTimeout,
	})

	a := &App{
		cfgm:        cfgm,
		opt:         opt,
		log:         log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		storeDriver: sc.Driver,
		engine:      engineSvc,
		sched:       schedSvc,
		notif:       notifSvc,
		reminders:   remSvc,
		pprof:       pprof.New(mapPprofConfig(cfg), log),
	}
	a.storeHealthy.Store(true)
	if notifSvc.Degraded() {
		log.Warn("smtp not configured; reminders will be logged but not emailed")
	}
	return a, nil
}

// Reminders exposes the tool-facing operations.
func (a *App) Reminders() *reminder.Service { return a.reminders }

// Logger returns the root app logger.
func (a *App) Logger() logx.Logger { return a.log }

// Config returns the committed config.
func (a *App) Config() *config.Config { return a.cfgm.Get() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the engine and the trigger loop, restores stored reminders and
// only then reports readiness. Requests must not be served before it returns.
func (a *App) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return nil
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateRuntime(cfg)
	})

	a.engine.Start(a.sup.Context())
	a.sched.Start(a.sup.Context())
	a.bootstrap(a.sup.Context())
	a.pprof.Reconfigure(a.sup.Context(), mapPprofConfig(a.cfgm.Get()))

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go("eventbus.log", func(c context.Context) error {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return nil
				case e, ok := <-events:
					if !ok {
						return nil
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	if !a.opt.disableWatch {
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	if ok, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if ok {
		a.log.Debug("sd_notify ready sent")
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		// Only a wedged trigger loop withholds the ping. Store outages are
		// reported through the status line instead.
		err := systemd.Watchdog(c, func(context.Context) bool {
			return a.sched.Running() || !a.sched.Enabled()
		})
		if err != nil {
			a.log.Warn("systemd watchdog disabled", logx.Err(err))
		}
		return nil
	})

	a.log.Info("app started", logx.String("store", a.storeDriver), logx.Bool("smtp_degraded", a.notif.Degraded()))
	return nil
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the live-reloadable sections. Storage, HTTP and MCP
// changes are logged as requiring a restart.
func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range restart {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}

	a.logs.Apply(mapLoggingConfig(newCfg, a.opt.stderrLogs))

	if engCfg, err := mapTaskEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(c, engCfg)
		if engCfg.Enabled {
			a.engine.Start(a.sup.Context())
		} else {
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.engine.Stop(stopCtx)
			cancel()
		}
	}

	prevSched := a.sched.Enabled()
	a.sched.Apply(mapSchedulerConfig(newCfg))
	switch {
	case prevSched && !newCfg.Scheduler.Enabled:
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !prevSched && newCfg.Scheduler.Enabled:
		a.log.Info("scheduler enabled via config")
		a.sched.Start(a.sup.Context())
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	a.pprof.Reconfigure(a.sup.Context(), mapPprofConfig(newCfg))

	if oldCfg != nil && oldCfg.Reminders.DefaultTimezone != newCfg.Reminders.DefaultTimezone {
		a.log.Warn("reminders.default_timezone changed; applies after restart")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeStore()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// Triggers stop before the engine so no firing is enqueued into a
	// draining pool. The store closes last.
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "pprof", 2*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error { return a.closeStore() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// step runs a shutdown step with an upper bound so one component can't stall
// the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		// respect the caller's deadline; never extend it
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
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
