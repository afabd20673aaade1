package storage

import (
	"errors"
	"time"

	"appwatch/internal/catalog"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultSweepRetention bounds the sweep log kept by every driver.
const DefaultSweepRetention = 500

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshots next to Path (no external service)
//   - "sqlite": SQLite database file
//   - "postgres": DSN, pooled through pgx
//   - "redis": Addr/Password/DB, keys under KeyPrefix
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Addr        string
	Password    string
	DB          int
	KeyPrefix   string
	MaxConns    int
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retention   int           // sweep records kept; 0 means DefaultSweepRetention
}

// KnownState maps group name -> identity key -> last version.
type KnownState map[string]map[string]string

// Clone returns a deep copy.
func (k KnownState) Clone() KnownState {
	out := make(KnownState, len(k))
	for g, m := range k {
		cp := make(map[string]string, len(m))
		for id, v := range m {
			cp[id] = v
		}
		out[g] = cp
	}
	return out
}

// Group returns the map for name, creating it when absent.
func (k KnownState) Group(name string) map[string]string {
	m, ok := k[name]
	if !ok {
		m = map[string]string{}
		k[name] = m
	}
	return m
}

// GlobalStats are cumulative counters. Total always equals the sum of
// PerPlatform; Normalize restores that after decoding or mutation.
type GlobalStats struct {
	PerPlatform    map[catalog.Platform]int64 `json:"per_platform"`
	Total          int64                      `json:"total"`
	New            int64                      `json:"new"`
	Exact          int64                      `json:"exact"`
	Update         int64                      `json:"update"`
	AvgKeywordTime float64                    `json:"avg_keyword_time"` // seconds
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Normalize makes sure every platform has an entry and recomputes Total.
func (s *GlobalStats) Normalize() {
	if s.PerPlatform == nil {
		s.PerPlatform = make(map[catalog.Platform]int64, len(catalog.Order))
	}
	for _, p := range catalog.Order {
		if _, ok := s.PerPlatform[p]; !ok {
			s.PerPlatform[p] = 0
		}
	}
	var total int64
	for _, n := range s.PerPlatform {
		total += n
	}
	s.Total = total
}

// NewGlobalStats returns zeroed stats for all platforms.
func NewGlobalStats() GlobalStats {
	var s GlobalStats
	s.Normalize()
	return s
}

// SweepRecord is the raw result set of one group sweep.
type SweepRecord struct {
	ID      string            `json:"id"`
	Group   string            `json:"group"`
	At      time.Time         `json:"at"`
	Results []catalog.Listing `json:"results"`
}

func retention(cfg Config) int {
	if cfg.Retention > 0 {
		return cfg.Retention
	}
	return DefaultSweepRetention
}
