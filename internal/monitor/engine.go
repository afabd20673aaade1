package monitor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"appwatch/internal/catalog"
	"appwatch/internal/config"
	"appwatch/internal/eventbus"
	rtsup "appwatch/internal/runtime/supervisor"
	"appwatch/internal/schedule"
	"appwatch/internal/storage"
	logx "appwatch/pkg/logx"
)

var (
	ErrBusy          = errors.New("monitor is busy")
	ErrUnknownGroup  = errors.New("unknown group")
	ErrGroupDisabled = errors.New("group is disabled")
)

// DefaultStopTimeout bounds Stop when the caller passes no timeout.
const DefaultStopTimeout = 10 * time.Second

type State int32

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ConfigSource yields the current configuration. The engine reads it once per
// cycle, so edits apply from the next cycle on.
type ConfigSource interface {
	Get() *config.Config
}

// Options wires an Engine. Store, Sink, Bus and Pacer may be nil.
type Options struct {
	Config   ConfigSource
	Catalogs *catalog.Registry
	Store    storage.Store
	Sink     Sink
	Bus      eventbus.Bus
	Pacer    *Pacer
	Log      logx.Logger
	Observer Observer
	Location *time.Location // cron evaluation; nil means time.Local
}

// CycleEvent is the payload of cycle lifecycle events.
type CycleEvent struct {
	ID       string        `json:"id"`
	Started  time.Time     `json:"started"`
	Took     time.Duration `json:"took,omitempty"`
	NextWait time.Duration `json:"next_wait,omitempty"`
}

// GroupEvent is the payload of monitor.group.finished.
type GroupEvent struct {
	SweepID string        `json:"sweep_id"`
	Group   string        `json:"group"`
	Results int           `json:"results"`
	New     int           `json:"new"`
	Update  int           `json:"update"`
	Exact   int           `json:"exact"`
	Took    time.Duration `json:"took"`
}

// ListingEvent is the payload of the per-listing monitor events.
type ListingEvent struct {
	Group      string          `json:"group"`
	Listing    catalog.Listing `json:"listing"`
	OldVersion string          `json:"old_version,omitempty"`
}

// Engine runs the monitoring loop. Start, Stop, ScanGroup and the accessors
// are safe for concurrent use; sweeps themselves are serialized.
type Engine struct {
	cfg      ConfigSource
	catalogs *catalog.Registry
	store    storage.Store
	bus      eventbus.Bus
	pacer    *Pacer
	log      logx.Logger
	obs      Observer
	loc      *time.Location
	dispatch *Dispatcher
	guard    *rtsup.Supervisor
	now      func() time.Time

	mu    sync.Mutex
	state State
	sup   *rtsup.Supervisor
	done  chan struct{}
	alive atomic.Bool

	// work is held by whoever sweeps: the loop or ScanGroup.
	work   sync.Mutex
	loaded bool
	known  storage.KnownState

	smu   sync.RWMutex
	stats storage.GlobalStats
}

func New(o Options) *Engine {
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "monitor"))
	if o.Store == nil {
		o.Store = storage.Disabled{}
	}
	if o.Bus == nil {
		o.Bus = eventbus.Nop()
	}
	if o.Pacer == nil {
		o.Pacer = NewPacer(nil)
	}
	return &Engine{
		cfg:      o.Config,
		catalogs: o.Catalogs,
		store:    o.Store,
		bus:      o.Bus,
		pacer:    o.Pacer,
		log:      log,
		obs:      o.Observer,
		loc:      o.Location,
		dispatch: NewDispatcher(o.Sink, log),
		guard:    rtsup.New(context.Background(), rtsup.WithLogger(log), rtsup.WithCancelOnError(false)),
		now:      time.Now,
		known:    storage.KnownState{},
		stats:    storage.NewGlobalStats(),
	}
}

// Start launches the loop. It returns false when a loop is already alive.
func (e *Engine) Start(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle || e.alive.Load() {
		e.log.Info("monitor already running")
		return false
	}

	sup := rtsup.New(ctx, rtsup.WithLogger(e.log), rtsup.WithCancelOnError(false))
	done := make(chan struct{})
	e.sup, e.done, e.state = sup, done, Running
	e.alive.Store(true)

	sup.Go("monitor.loop", func(c context.Context) error {
		defer func() {
			e.alive.Store(false)
			e.mu.Lock()
			if e.done == done {
				e.state = Idle
				e.sup = nil
			}
			e.mu.Unlock()
			close(done)
		}()
		return e.run(c)
	})
	return true
}

// Stop cancels the loop and waits up to timeout for it to exit. On timeout
// the loop is left to finish its in-flight call on its own: the engine is
// Idle again but Running keeps reporting true until the goroutine is gone.
func (e *Engine) Stop(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	e.mu.Lock()
	if e.state != Running || e.sup == nil {
		e.mu.Unlock()
		return !e.alive.Load()
	}
	sup, done := e.sup, e.done
	e.state = Stopping
	e.mu.Unlock()

	e.log.Info("stopping monitor")
	sup.Cancel()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		e.log.Info("monitor stopped")
		return true
	case <-t.C:
		e.log.Warn("monitor loop did not exit in time", logx.Duration("timeout", timeout))
		e.mu.Lock()
		if e.done == done {
			e.state = Idle
			e.sup = nil
		}
		e.mu.Unlock()
		return false
	}
}

// Running reports whether the loop goroutine is alive.
func (e *Engine) Running() bool { return e.alive.Load() }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns a copy of the lifetime stats.
func (e *Engine) Stats() storage.GlobalStats {
	e.smu.RLock()
	defer e.smu.RUnlock()
	s := e.stats
	s.PerPlatform = maps.Clone(e.stats.PerPlatform)
	return s
}

// Guards exposes per-group sweep counters (runs, failures, panics).
func (e *Engine) Guards() rtsup.Snapshot { return e.guard.Snapshot() }

// ScanGroup sweeps one group right away on the caller's goroutine. It is
// refused with ErrBusy while the loop runs.
func (e *Engine) ScanGroup(ctx context.Context, name string) error {
	if e.Running() || !e.work.TryLock() {
		return ErrBusy
	}
	defer e.work.Unlock()

	cfg := e.config()
	g, ok := cfg.FindGroup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	if !g.IsEnabled() {
		return fmt.Errorf("%w: %s", ErrGroupDisabled, name)
	}

	e.ensureLoaded(ctx)
	e.noteGroup(name, "manual scan started")
	err := e.guard.Guard("group."+g.Name, func() error { return e.sweepGroup(ctx, cfg, g) })
	e.persistKnown(ctx)
	e.obs.progress(0)
	if err != nil && !errors.Is(err, context.Canceled) {
		e.groupFailed(ctx, cfg, g.Name, err)
	}
	return err
}

func (e *Engine) config() *config.Config {
	if e.cfg == nil {
		return nil
	}
	return e.cfg.Get()
}

func (e *Engine) run(ctx context.Context) error {
	e.work.Lock()
	defer e.work.Unlock()

	e.ensureLoaded(ctx)
	e.note("monitoring started")
	defer e.note("monitoring stopped")

	for ctx.Err() == nil {
		err := e.guard.Guard("monitor.cycle", func() error { return e.cycle(ctx) })
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}
		e.log.Error("monitor loop failed", logx.Err(err))
		e.obs.log("monitor loop failed: " + err.Error())
		e.dispatch.Error(context.WithoutCancel(ctx), e.config(), "Критическая ошибка цикла мониторинга: "+err.Error())
		return err
	}
	return nil
}

func (e *Engine) cycle(ctx context.Context) error {
	cfg := e.config()
	if cfg == nil {
		return errors.New("no configuration loaded")
	}

	ev := CycleEvent{ID: uuid.NewString(), Started: e.now()}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleStarted, Time: ev.Started, Data: ev})
	e.log.Debug("cycle started", logx.String("cycle", ev.ID), logx.Int("groups", len(cfg.Groups)))

	for _, g := range cfg.Groups {
		if ctx.Err() != nil {
			break
		}
		if !g.IsEnabled() {
			e.noteGroup(g.Name, "group disabled, skipped")
			continue
		}
		err := e.guard.Guard("group."+g.Name, func() error { return e.sweepGroup(ctx, cfg, g) })
		if err != nil && !errors.Is(err, context.Canceled) {
			e.groupFailed(ctx, cfg, g.Name, err)
		}
	}

	e.persistKnown(ctx)
	e.obs.progress(0)
	if err := ctx.Err(); err != nil {
		return err
	}

	cad, err := schedule.New(string(cfg.CycleInterval), e.loc)
	if err != nil {
		e.log.Warn("invalid cycle interval, using default", logx.String("cycle_interval", string(cfg.CycleInterval)), logx.Err(err))
		cad = schedule.MustEvery(config.DefaultCycleInterval)
	}
	ev.Took = e.now().Sub(ev.Started)
	ev.NextWait = cad.Wait(e.now())
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Time: e.now(), Data: ev})
	e.note("cycle finished",
		logx.String("cycle", ev.ID),
		logx.Duration("took", ev.Took),
		logx.Duration("next_in", ev.NextWait),
	)
	return e.countdown(ctx, ev.NextWait)
}

// countdown reports the remaining wait once per second and returns early on
// cancellation.
func (e *Engine) countdown(ctx context.Context, wait time.Duration) error {
	remaining := int(wait / time.Second)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for ; remaining > 0; remaining-- {
		e.obs.countdown(remaining)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
	e.obs.countdown(0)
	return ctx.Err()
}

// sweepGroup runs every keyword of g through the catalogs, then classifies,
// dispatches, and folds the stats. A cancellation between keywords stops the
// sweep early; whatever was merged so far is still reported.
func (e *Engine) sweepGroup(ctx context.Context, cfg *config.Config, g config.Group) error {
	log := e.log.With(logx.String("group", g.Name))

	var keywords []string
	for _, kw := range g.Keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		e.noteGroup(g.Name, "group has no keywords, skipped")
		return nil
	}

	sweepID := uuid.NewString()
	started := e.now()
	known := e.known.Group(g.Name)
	before := maps.Clone(known)
	lo, hi := cfg.Delay()
	// Adapters run on their own timeouts; Stop never cuts a call short.
	post := context.WithoutCancel(ctx)

	var (
		results  []catalog.Listing
		counts   = SweepCounts{}
		notified = map[string]bool{}
		newSent  int
		kwTime   time.Duration
		kwDone   int
	)

	log.Info("group sweep started", logx.String("sweep", sweepID), logx.Int("keywords", len(keywords)))
	for _, kw := range keywords {
		if ctx.Err() != nil {
			break
		}
		kwStart := e.now()

		var found []catalog.Listing
		for _, p := range catalog.Order {
			pc := platformConfig(cfg, p)
			if a, ok := e.catalogs.Get(p); ok && pc.IsEnabled() {
				found = append(found, catalog.Safe(post, e.log, a, kw, pc.MaxResults, cfg.Proxy)...)
			}
			e.pacer.Wait(ctx, lo, hi)
		}

		for _, l := range found {
			key, res := merge(known, l)
			switch res {
			case mergeNew:
				counts[l.Platform]++
				results = append(results, l)
				e.bus.Publish(eventbus.Event{Type: eventbus.TypeNewListing, Time: e.now(), Data: ListingEvent{Group: g.Name, Listing: l}})
				if g.NotifyNew && !notified[key] {
					notified[key] = true
					newSent++
					e.dispatch.New(post, cfg, g, l)
				}
			case mergeChanged:
				results = append(results, l)
			}
		}

		kwDone++
		kwTime += e.now().Sub(kwStart)
		e.obs.progress(kwDone * 100 / len(keywords))
		log.Debug("keyword done", logx.String("keyword", kw), logx.Int("found", len(found)))
	}
	if kwDone == 0 {
		return ctx.Err()
	}

	updates, exact := Classify(g, results, before)
	for _, u := range updates {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeUpdate, Time: e.now(), Data: ListingEvent{Group: g.Name, Listing: u.Listing, OldVersion: u.OldVersion}})
	}
	for _, l := range exact {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeExactMatch, Time: e.now(), Data: ListingEvent{Group: g.Name, Listing: l}})
	}
	e.dispatch.Updates(post, cfg, g, updates)
	e.dispatch.Exact(post, cfg, g, exact)

	tally := SweepTally{
		Counts:  counts,
		New:     newSent,
		Update:  len(updates),
		Exact:   len(exact),
		AvgTime: kwTime.Seconds() / float64(kwDone),
	}
	e.smu.Lock()
	e.stats = Aggregate(e.stats, tally, e.now())
	global := e.stats
	global.PerPlatform = maps.Clone(e.stats.PerPlatform)
	e.smu.Unlock()
	if err := e.store.SaveStats(post, global); err != nil {
		log.Warn("save stats failed", logx.Err(err))
	}
	if len(results) > 0 {
		rec := storage.SweepRecord{ID: sweepID, Group: g.Name, At: e.now(), Results: results}
		if err := e.store.AppendSweep(post, rec); err != nil {
			log.Warn("append sweep failed", logx.Err(err))
		}
	}
	e.obs.stats(NewSession(g.Name, counts), global)

	gev := GroupEvent{
		SweepID: sweepID,
		Group:   g.Name,
		Results: len(results),
		New:     tally.New,
		Update:  tally.Update,
		Exact:   tally.Exact,
		Took:    e.now().Sub(started),
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeGroupFinished, Time: e.now(), Data: gev})
	e.noteGroup(g.Name, "group sweep finished",
		logx.Int("results", gev.Results),
		logx.Int("new", gev.New),
		logx.Int("update", gev.Update),
		logx.Int("exact", gev.Exact),
		logx.Duration("took", gev.Took),
	)
	return ctx.Err()
}

func (e *Engine) groupFailed(ctx context.Context, cfg *config.Config, group string, err error) {
	e.log.Error("group sweep failed", logx.String("group", group), logx.Err(err))
	e.obs.log(fmt.Sprintf("group %s failed: %v", group, err))
	e.dispatch.Error(context.WithoutCancel(ctx), cfg, fmt.Sprintf("Ошибка при обработке группы %s: %v", group, err))
}

// ensureLoaded reads known state and stats from the store once.
func (e *Engine) ensureLoaded(ctx context.Context) {
	if e.loaded {
		return
	}
	e.loaded = true

	if k, err := e.store.LoadKnown(ctx); err != nil {
		e.log.Warn("load known state failed, starting empty", logx.Err(err))
	} else if k != nil {
		e.known = k
	}
	s, err := e.store.LoadStats(ctx)
	if err != nil {
		e.log.Warn("load stats failed, starting from zero", logx.Err(err))
		return
	}
	s.Normalize()
	e.smu.Lock()
	e.stats = s
	e.smu.Unlock()
}

func (e *Engine) persistKnown(ctx context.Context) {
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := e.store.SaveKnown(c, e.known.Clone()); err != nil {
		e.log.Warn("save known state failed", logx.Err(err))
	}
}

// note logs at info level and mirrors the message to the observer.
func (e *Engine) note(msg string, fields ...logx.Field) {
	e.log.Info(msg, fields...)
	e.obs.log(msg)
}

// noteGroup is note with the group attached to both sinks.
func (e *Engine) noteGroup(group, msg string, fields ...logx.Field) {
	e.log.Info(msg, append([]logx.Field{logx.String("group", group)}, fields...)...)
	e.obs.log("[" + group + "] " + msg)
}

func platformConfig(cfg *config.Config, p catalog.Platform) config.PlatformConfig {
	ps := cfg.Platforms
	switch p {
	case catalog.GooglePlay:
		return ps.GooglePlay
	case catalog.AppStore:
		return ps.AppStore
	case catalog.RuStore:
		return ps.RuStore
	case catalog.XiaomiGlobal:
		return ps.XiaomiGlobal
	case catalog.XiaomiGetApps:
		return ps.XiaomiGetApps
	case catalog.GalaxyStore:
		return ps.GalaxyStore
	case catalog.HuaweiAppGallery:
		return ps.HuaweiGallery
	}
	f := false
	return config.PlatformConfig{Enabled: &f}
}
