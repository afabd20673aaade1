package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"appwatch/internal/config"
	"appwatch/internal/monitor"
	rtsup "appwatch/internal/runtime/supervisor"
	"appwatch/internal/storage"
	logx "appwatch/pkg/logx"
)

// Monitor is the part of monitor.Engine the API drives.
type Monitor interface {
	Start(ctx context.Context) bool
	Stop(timeout time.Duration) bool
	Running() bool
	State() monitor.State
	ScanGroup(ctx context.Context, name string) error
	Stats() storage.GlobalStats
	Guards() rtsup.Snapshot
}

// Deps are the handlers' collaborators. Store may be nil.
type Deps struct {
	Monitor Monitor
	Tracker *Tracker
	Config  monitor.ConfigSource
	Store   storage.Store
	Log     logx.Logger

	// Base outlives requests: the loop runs under it.
	Base        func() context.Context
	StopTimeout time.Duration

	// Jobs runs background scans. When nil the handler starts its own
	// supervisor under Base.
	Jobs *rtsup.Supervisor
}

// GroupView is the public shape of a configured group. Endpoint tokens are
// never exposed.
type GroupView struct {
	Name         string   `json:"name"`
	Keywords     []string `json:"keywords"`
	Enabled      bool     `json:"enabled"`
	NotifyNew    bool     `json:"notify_new"`
	NotifyExact  bool     `json:"notify_exact"`
	NotifyUpdate bool     `json:"notify_update"`
}

type api struct {
	d        Deps
	scanning atomic.Bool
}

// NewHandler builds the operator API router.
func NewHandler(d Deps, token string, corsOrigins []string, withPprof bool) http.Handler {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Base == nil {
		d.Base = context.Background
	}
	if d.StopTimeout <= 0 {
		d.StopTimeout = monitor.DefaultStopTimeout
	}
	if d.Jobs == nil {
		d.Jobs = rtsup.New(d.Base(), rtsup.WithLogger(d.Log), rtsup.WithCancelOnError(false))
	}
	a := &api{d: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog(d.Log))
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(token))
		r.Get("/status", a.status)
		r.Get("/stats", a.stats)
		r.Get("/groups", a.groups)
		r.Get("/sweeps", a.sweeps)
		r.Post("/monitor/start", a.start)
		r.Post("/monitor/stop", a.stop)
		r.Post("/groups/{name}/scan", a.scan)
		if withPprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

func (a *api) status(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("logs"))
	if n <= 0 {
		n = 20
	}
	var snap Snapshot
	if a.d.Tracker != nil {
		snap = a.d.Tracker.Snapshot(n)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"state":     a.d.Monitor.State().String(),
		"running":   a.d.Monitor.Running(),
		"progress":  snap.Progress,
		"countdown": snap.Countdown,
		"logs":      snap.Logs,
		"guards":    a.d.Monitor.Guards(),
	})
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	out := map[string]any{"global": a.d.Monitor.Stats()}
	if a.d.Tracker != nil {
		if s := a.d.Tracker.Snapshot(1).Session; s != nil {
			out["session"] = s
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *api) groups(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, groupViews(a.cfg()))
}

func (a *api) sweeps(w http.ResponseWriter, r *http.Request) {
	if a.d.Store == nil {
		respondError(w, http.StatusServiceUnavailable, storage.ErrDisabled.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > storage.DefaultSweepRetention {
		limit = 20
	}
	recs, err := a.d.Store.RecentSweeps(r.Context(), limit)
	switch {
	case errors.Is(err, storage.ErrDisabled):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		a.d.Log.Warn("recent sweeps failed", logx.Err(err))
		respondError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if group := r.URL.Query().Get("group"); group != "" {
		kept := recs[:0]
		for _, rec := range recs {
			if rec.Group == group {
				kept = append(kept, rec)
			}
		}
		recs = kept
	}
	if recs == nil {
		recs = []storage.SweepRecord{}
	}
	respondJSON(w, http.StatusOK, recs)
}

func (a *api) start(w http.ResponseWriter, _ *http.Request) {
	if !a.d.Monitor.Start(a.d.Base()) {
		respondError(w, http.StatusConflict, "monitor already running")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"started": true})
}

func (a *api) stop(w http.ResponseWriter, _ *http.Request) {
	ok := a.d.Monitor.Stop(a.d.StopTimeout)
	respondJSON(w, http.StatusOK, map[string]any{"stopped": ok, "running": a.d.Monitor.Running()})
}

// scan runs the group sweep in the background and answers 202, or runs it
// inline when ?wait=true.
func (a *api) scan(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	g, ok := a.cfg().FindGroup(name)
	switch {
	case !ok:
		respondError(w, http.StatusNotFound, monitor.ErrUnknownGroup.Error())
		return
	case !g.IsEnabled():
		respondError(w, http.StatusConflict, monitor.ErrGroupDisabled.Error())
		return
	case a.d.Monitor.Running(), !a.scanning.CompareAndSwap(false, true):
		respondError(w, http.StatusConflict, monitor.ErrBusy.Error())
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		defer a.scanning.Store(false)
		if err := a.d.Monitor.ScanGroup(r.Context(), name); err != nil {
			respondError(w, scanStatus(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"group": name, "done": true})
		return
	}

	a.d.Jobs.Go0("scan."+name, func(ctx context.Context) {
		defer a.scanning.Store(false)
		if err := a.d.Monitor.ScanGroup(ctx, name); err != nil && !errors.Is(err, context.Canceled) {
			a.d.Log.Warn("background scan failed", logx.String("group", name), logx.Err(err))
		}
	})
	respondJSON(w, http.StatusAccepted, map[string]any{"group": name, "queued": true})
}

func scanStatus(err error) int {
	switch {
	case errors.Is(err, monitor.ErrUnknownGroup):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrBusy), errors.Is(err, monitor.ErrGroupDisabled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) cfg() *config.Config {
	if a.d.Config == nil {
		return nil
	}
	return a.d.Config.Get()
}

func groupViews(cfg *config.Config) []GroupView {
	out := []GroupView{}
	if cfg == nil {
		return out
	}
	for _, g := range cfg.Groups {
		out = append(out, GroupView{
			Name:         g.Name,
			Keywords:     append([]string{}, g.Keywords...),
			Enabled:      g.IsEnabled(),
			NotifyNew:    g.NotifyNew,
			NotifyExact:  g.NotifyExact,
			NotifyUpdate: g.NotifyUpdate,
		})
	}
	return out
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				ah := r.Header.Get("Authorization")
				if after, ok := strings.CutPrefix(ah, "Bearer "); ok {
					got = strings.TrimSpace(after)
				}
			}
			if got != tok {
				w.Header().Set("WWW-Authenticate", "Bearer")
				respondError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
