package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultCycleInterval = 1500 * time.Second
	DefaultInterval      = 12000
)

var DefaultDelayRange = [2]float64{2, 6}

// Default result caps per catalog.
const (
	DefaultMaxGooglePlay    = 8
	DefaultMaxAppStore      = 8
	DefaultMaxRuStore       = 20
	DefaultMaxXiaomiGlobal  = 8
	DefaultMaxXiaomiGetApps = 8
	DefaultMaxGalaxyStore   = 27
	DefaultMaxHuaweiGallery = 8
)

// ApplyDefaults fills omitted values in place. It never overrides values
// that were set explicitly.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(string(cfg.CycleInterval)) == "" {
		cfg.CycleInterval = Schedule(fmt.Sprintf("%d", int(DefaultCycleInterval/time.Second)))
	}
	if len(cfg.DelayRange) == 0 {
		cfg.DelayRange = []float64{DefaultDelayRange[0], DefaultDelayRange[1]}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cfg.ErrorEndpoint = dropEmptyRef(cfg.ErrorEndpoint)
	for i := range cfg.Groups {
		g := &cfg.Groups[i]
		g.NotifyNewTarget = dropEmptyRef(g.NotifyNewTarget)
		g.NotifyExactTarget = dropEmptyRef(g.NotifyExactTarget)
		g.NotifyUpdateTarget = dropEmptyRef(g.NotifyUpdateTarget)
	}
	p := &cfg.Platforms
	defMax(&p.GooglePlay, DefaultMaxGooglePlay)
	defMax(&p.AppStore, DefaultMaxAppStore)
	defMax(&p.RuStore, DefaultMaxRuStore)
	defMax(&p.XiaomiGlobal, DefaultMaxXiaomiGlobal)
	defMax(&p.XiaomiGetApps, DefaultMaxXiaomiGetApps)
	defMax(&p.GalaxyStore, DefaultMaxGalaxyStore)
	defMax(&p.HuaweiGallery, DefaultMaxHuaweiGallery)
}

func dropEmptyRef(r *EndpointRef) *EndpointRef {
	if r.IsZero() {
		return nil
	}
	return r
}

func defMax(pc *PlatformConfig, n int) {
	if pc.MaxResults <= 0 {
		pc.MaxResults = n
	}
}

// Delay returns the pacing window as durations. min > max is swapped.
func (c *Config) Delay() (time.Duration, time.Duration) {
	lo, hi := DefaultDelayRange[0], DefaultDelayRange[1]
	if c != nil && len(c.DelayRange) >= 2 {
		lo, hi = c.DelayRange[0], c.DelayRange[1]
	} else if c != nil && len(c.DelayRange) == 1 {
		lo, hi = c.DelayRange[0], c.DelayRange[0]
	}
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		hi = 0
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return time.Duration(lo * float64(time.Second)), time.Duration(hi * float64(time.Second))
}

// AutoStartEnabled reports whether the loop should start with the process.
func (c *Config) AutoStartEnabled() bool {
	return c == nil || c.AutoStart == nil || *c.AutoStart
}

// DefaultEndpoint returns the first configured endpoint.
func (c *Config) DefaultEndpoint() (Endpoint, bool) {
	if c == nil || len(c.Endpoints) == 0 {
		return Endpoint{}, false
	}
	return c.Endpoints[0], true
}

// FindGroup returns the group with the given name (case-sensitive).
func (c *Config) FindGroup(name string) (Group, bool) {
	if c == nil {
		return Group{}, false
	}
	for _, g := range c.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}
