// Package status keeps an in-memory view of the monitor for operators and
// serves it over HTTP.
package status

import (
	"maps"
	"sync"
	"time"

	"appwatch/internal/monitor"
	"appwatch/internal/storage"
)

const logLimit = 200

type LogLine struct {
	At  time.Time `json:"at"`
	Msg string    `json:"msg"`
}

// Snapshot is a copy of everything the tracker has seen.
type Snapshot struct {
	Progress  int                  `json:"progress"`
	Countdown int                  `json:"countdown"`
	Session   *monitor.Session     `json:"session,omitempty"`
	Global    *storage.GlobalStats `json:"global,omitempty"`
	Logs      []LogLine            `json:"logs"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Tracker records observer callbacks. It never blocks the monitor loop for
// longer than a map copy.
type Tracker struct {
	mu        sync.RWMutex
	progress  int
	countdown int
	session   *monitor.Session
	global    *storage.GlobalStats
	logs      []LogLine
	updated   time.Time
	now       func() time.Time
}

func NewTracker() *Tracker { return &Tracker{now: time.Now} }

// Observer returns callbacks that feed the tracker.
func (t *Tracker) Observer() monitor.Observer {
	return monitor.Observer{
		OnLog:       t.addLog,
		OnProgress:  t.setProgress,
		OnStats:     t.setStats,
		OnCountdown: t.setCountdown,
	}
}

func (t *Tracker) addLog(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updated = t.now()
	t.logs = append(t.logs, LogLine{At: t.updated, Msg: msg})
	if len(t.logs) > logLimit {
		t.logs = t.logs[len(t.logs)-logLimit:]
	}
}

func (t *Tracker) setProgress(p int) {
	t.mu.Lock()
	t.progress = p
	t.updated = t.now()
	t.mu.Unlock()
}

func (t *Tracker) setCountdown(n int) {
	t.mu.Lock()
	t.countdown = n
	t.mu.Unlock()
}

func (t *Tracker) setStats(s monitor.Session, g storage.GlobalStats) {
	s.PerPlatform = maps.Clone(s.PerPlatform)
	g.PerPlatform = maps.Clone(g.PerPlatform)
	t.mu.Lock()
	t.session = &s
	t.global = &g
	t.updated = t.now()
	t.mu.Unlock()
}

// Snapshot returns a copy. The last n log lines are included; n <= 0 means all.
func (t *Tracker) Snapshot(n int) Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := Snapshot{Progress: t.progress, Countdown: t.countdown, UpdatedAt: t.updated}
	if t.session != nil {
		s := *t.session
		s.PerPlatform = maps.Clone(s.PerPlatform)
		out.Session = &s
	}
	if t.global != nil {
		g := *t.global
		g.PerPlatform = maps.Clone(g.PerPlatform)
		out.Global = &g
	}
	logs := t.logs
	if n > 0 && len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	out.Logs = append([]LogLine{}, logs...)
	return out
}
