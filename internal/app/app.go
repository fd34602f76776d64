package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"timerd/internal/config"
	"timerd/internal/eventbus"
	"timerd/internal/jobs"
	metrics "timerd/internal/observability/prometheus"
	rtsup "timerd/internal/runtime/supervisor"
	"timerd/internal/storage"
	"timerd/internal/systemd"
	"timerd/internal/timer"
	logx "timerd/pkg/logx"
)

// attachedIdle caps how long the Attached drain loop sleeps, so tasks added
// from other goroutines are picked up without a driver wakeup.
const attachedIdle = 100 * time.Millisecond

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	recorder *storage.Recorder

	sched   *timer.Scheduler
	jobs    *jobs.Registry
	exp     *metrics.Exporter
	metrics *metrics.Server
	sd      *systemd.Notifier

	watchdogTask timer.TaskID
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing runs until Start, except the Detached timer driver.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := jobs.ValidateConfig(context.Background(), cfg); err != nil {
		return nil, err
	}
	defs, err := jobs.FromConfig(cfg.Jobs)
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	var store storage.Store
	var sched *timer.Scheduler
	fail := func(err error) (*App, error) {
		if sched != nil {
			_ = sched.Close()
		}
		if store != nil {
			_ = store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}

	mode, err := timer.ParseMode(cfg.Scheduler.Mode)
	if err != nil {
		return fail(fmt.Errorf("scheduler.mode: %w", err))
	}
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return fail(err)
	}

	exp, err := metrics.NewExporter(cfg.Metrics.Resolved().Namespace, nil)
	if err != nil {
		return fail(fmt.Errorf("metrics: %w", err))
	}

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return fail(err)
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return fail(err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.Int("keep", sc.Keep))
	}

	sched, err = timer.New(mode,
		timer.WithLogger(log.With(logx.String("comp", "timer"))),
		timer.WithObserver(exp),
		timer.WithStartTimeout(cfg.Scheduler.StartTimeoutOrDefault()),
		timer.WithCancelWarnRate(cfg.Scheduler.CancelWarnRate()),
	)
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	reg := jobs.New(sched,
		jobs.WithLogger(log.With(logx.String("comp", "jobs"))),
		jobs.WithBus(bus),
		jobs.WithLocation(loc),
	)
	rec := storage.NewRecorder(store, bus, log.With(logx.String("comp", "history")), exp.ObserveRun)

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		recorder: rec,
		sched:    sched,
		jobs:     reg,
		exp:      exp,
	}
	a.metrics = metrics.NewServer(mapMetricsConfig(cfg), exp.Handler(), a.health, log)
	if cfg.Systemd.Notify {
		a.sd = systemd.New(log)
	}

	if err := reg.Apply(defs); err != nil {
		return fail(err)
	}
	return a, nil
}

func (a *App) Scheduler() *timer.Scheduler { return a.sched }
func (a *App) Jobs() *jobs.Registry        { return a.jobs }
func (a *App) Store() storage.Store        { return a.store }

// MetricsAddr returns the bound metrics address, or "" when not serving.
func (a *App) MetricsAddr() string { return a.metrics.Addr() }

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

func (a *App) health() error {
	if err := a.Err(); err != nil {
		return err
	}
	if a.sched.Snapshot().Stopped {
		return errors.New("scheduler stopped")
	}
	if a.watchdogTask != 0 && !a.sched.Pending(a.watchdogTask) {
		return errors.New("watchdog keepalive task missing")
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(jobs.ValidateConfig)

	a.sup.Go("history.recorder", a.recorder.Run)

	if a.sched.Mode() == timer.Attached {
		a.sup.Go("timer.drain", a.drainLoop)
	}

	// Armed before the health endpoint serves, which reads watchdogTask.
	if a.sd != nil && a.cfgm.Get().Systemd.Watchdog {
		a.startWatchdog()
	}

	a.metrics.Start(a.sup.Context())

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	jobsN := len(a.jobs.Snapshot())
	if a.sd != nil {
		_, _ = a.sd.Ready(fmt.Sprintf("%d jobs scheduled", jobsN))
	}
	a.log.Info("app started",
		logx.String("mode", a.sched.Mode().String()),
		logx.Int("jobs", jobsN),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// drainLoop is the host loop for Attached mode.
func (a *App) drainLoop(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		a.sched.DrainDue()
		d, ok := a.sched.TimeUntilNext()
		if !ok || d > attachedIdle {
			d = attachedIdle
		}
		t.Reset(d)
	}
}

// startWatchdog registers the keepalive as a recurring timer task, so a
// stalled timer also stops the pings.
func (a *App) startWatchdog() {
	interval, err := a.sd.WatchdogInterval()
	if err != nil {
		a.log.Warn("systemd watchdog unavailable", logx.Err(err))
		return
	}
	every := systemd.KeepaliveEvery(interval)
	if every <= 0 {
		a.log.Debug("systemd watchdog not enabled for this unit")
		return
	}
	a.watchdogTask = a.sched.Add(every, true, func() {
		_, _ = a.sd.Watchdog()
	})
	a.log.Info("systemd watchdog keepalive armed", logx.Duration("every", every))
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	// Track last applied config to generate a safe diff summary for logx.
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
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs, changedJobs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if a.sd != nil {
		_, _ = a.sd.Reloading()
	}

	for _, s := range sections {
		switch s {
		case "scheduler", "storage", "systemd":
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if prev.Metrics.Resolved().Namespace != next.Metrics.Resolved().Namespace {
		a.log.Warn("metrics.namespace changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLogConfig(next))

	if len(changedJobs) > 0 {
		a.log.Debug("job changes detected", logx.Any("jobs", changedJobs))
		defs, err := jobs.FromConfig(next.Jobs)
		if err == nil {
			err = a.jobs.Apply(defs)
		}
		if err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		}
	}

	a.metrics.Reconfigure(c, mapMetricsConfig(next))

	if a.sd != nil {
		_, _ = a.sd.Ready(fmt.Sprintf("%d jobs scheduled", len(a.jobs.Snapshot())))
	}

	// Keep the final log line concise and human-friendly (details are in debug logs).
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.shutdownComponents(ctx)
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if a.sd != nil {
		_, _ = a.sd.Status("stopping: " + string(reason))
		_, _ = a.sd.Stopping()
	}
	return a.shutdownComponents(ctx)
}

func (a *App) shutdownComponents(ctx context.Context) error {
	var errs []error
	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := boundedContext(ctx, max)
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			errs = append(errs, fmt.Errorf("%s: %w", name, stepCtx.Err()))
		}
	}

	if a.watchdogTask != 0 {
		a.sched.Cancel(a.watchdogTask)
	}
	// Jobs first: their in-flight actions may still publish runs.
	step("jobs", 3*time.Second, a.jobs.Close)
	step("timer", 2*time.Second, a.sched.Stop)
	step("metrics", time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	if a.sup != nil {
		// config watch/reload, recorder and the Attached drain loop
		step("supervisor", 2*time.Second, a.sup.Stop)
	}
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

// boundedContext derives a context that ends at max from now or at the
// caller's deadline, whichever is first.
func boundedContext(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	if max <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, max)
}
