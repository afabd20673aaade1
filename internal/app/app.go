// Package app wires config, storage, catalogs, the monitor engine and the
// operator surfaces into one process.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"appwatch/internal/catalog/headless"
	"appwatch/internal/config"
	"appwatch/internal/control"
	"appwatch/internal/eventbus"
	"appwatch/internal/monitor"
	"appwatch/internal/notifier"
	rtsup "appwatch/internal/runtime/supervisor"
	"appwatch/internal/status"
	"appwatch/internal/storage"
	kit "appwatch/internal/transport"
	telegram "appwatch/internal/transport/telegram/adapter"
	"appwatch/internal/transport/telegram/router"
	logx "appwatch/pkg/logx"
)

// restartSections need a process restart to take effect.
var restartSections = []string{"storage", "fetch"}

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	jobs *rtsup.Supervisor // operator-triggered scans

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sender  *telegram.Sender
	notif   *notifier.Service
	browser *headless.Browser
	engine  *monitor.Engine
	tracker *status.Tracker
	http    *status.Server

	// control bot; nil when control.enabled is false
	adapter *telegram.Adapter
	router  *router.Router
	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		st, err := storage.Open(ctx, sc, log)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	sender := telegram.NewSender(log)

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	notif := notifier.New(ncfg, sender, log, bus)

	reg, browser, err := buildCatalogs(cfg, log)
	if err != nil {
		return nil, err
	}

	tracker := status.NewTracker()
	engine := monitor.New(monitor.Options{
		Config:   cfgm,
		Catalogs: reg,
		Store:    store,
		Sink:     notifySink{notif: notif, sender: sender, log: log.With(logx.String("comp", "sink"))},
		Bus:      bus,
		Pacer:    monitor.NewPacer(nil),
		Log:      log,
		Observer: tracker.Observer(),
	})

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		sender:  sender,
		notif:   notif,
		browser: browser,
		engine:  engine,
		tracker: tracker,
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.http = status.NewServer(hc, status.Deps{
		Monitor: engine,
		Tracker: tracker,
		Config:  cfgm,
		Store:   store,
		Log:     log,
		Base:    a.baseContext,
	}, log)

	if cfg.Control != nil && cfg.Control.Enabled {
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Control.Token,
			PollTimeout: controlPollTimeout(cfg),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("control bot: %w", err)
		}
		a.adapter = ad
		a.router = router.New(log, ad, controlOwners(cfg))
		a.updates = make(chan kit.Update, 64)
	}
	return a, nil
}

func (a *App) Engine() *monitor.Engine { return a.engine }

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

// baseContext outlives requests and commands; the monitor loop and
// background scans run under it.
func (a *App) baseContext() context.Context {
	if a.sup == nil {
		return context.Background()
	}
	return a.sup.Context()
}

// validate rejects a hot reload that the mappers cannot apply.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapBrowserConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPClientConfig(cfg); err != nil {
		return err
	}
	return nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()
	a.jobs = rtsup.New(run, rtsup.WithLogger(a.log.With(logx.String("comp", "jobs"))), rtsup.WithCancelOnError(false))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	if a.notif.Enabled() {
		a.notif.Start(run)
	}
	a.http.Start(run)

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			return fmt.Errorf("control bot: %w", err)
		}
		a.router.SetCommands(run, control.Commands(control.Deps{
			Monitor: a.engine,
			Tracker: a.tracker,
			Config:  a.cfgm,
			Log:     a.log,
			Base:    a.baseContext,
			Jobs:    a.jobs,
		}))
		a.sup.Go("control.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
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
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	if a.cfgm.Get().AutoStartEnabled() {
		a.engine.Start(run)
	}

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.Bool("monitor", a.engine.Running()),
		logx.Bool("control", a.adapter != nil),
	)
	return nil
}

// applyConfig pushes a committed config into the live services. Groups,
// endpoints, timing and platforms need no push: the engine reads the
// config at the start of each cycle.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, groups := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(groups) > 0 {
		a.log.Debug("group changes detected", logx.Strings("groups", groups))
	}

	for _, s := range restartSections {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(next))

	prevNotif := a.notif.Enabled()
	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
		switch {
		case prevNotif && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !prevNotif && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else {
		a.http.Reconfigure(ctx, hc)
	}

	if slices.Contains(sections, "control") {
		if a.router != nil {
			a.router.SetOwners(controlOwners(next))
		}
		if controlTokenChanged(prev, next) {
			a.log.Warn("control bot token or enabled flag changed; restart required")
		}
	}

	a.log.Info("config reloaded", fields...)
}

func controlTokenChanged(prev, next *config.Config) bool {
	var pe, ne bool
	var pt, nt string
	if prev != nil && prev.Control != nil {
		pe, pt = prev.Control.Enabled, prev.Control.Token
	}
	if next != nil && next.Control != nil {
		ne, nt = next.Control.Enabled, next.Control.Token
	}
	return pe != ne || pt != nt
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// The engine gets its own bounded stop so it can persist state before
	// the run context is canceled under it.
	a.step(ctx, "monitor", monitor.DefaultStopTimeout+time.Second, func(context.Context) error {
		if !a.engine.Stop(monitor.DefaultStopTimeout) {
			return fmt.Errorf("monitor did not stop within %s", monitor.DefaultStopTimeout)
		}
		return nil
	})

	a.sup.Cancel()

	a.step(ctx, "http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "control", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	a.step(ctx, "jobs", 5*time.Second, func(c context.Context) error { return a.jobs.Wait(c) })
	a.step(ctx, "notifier", 3*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "browser", 2*time.Second, func(context.Context) error { return a.browser.Close() })
	a.step(ctx, "storage", 2*time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// config watch/reload, command dispatcher, bus logger
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
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
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
