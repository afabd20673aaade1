package monitor

import (
	"time"

	"appwatch/internal/catalog"
	"appwatch/internal/storage"
)

// Session mirrors the counts of the latest group sweep only.
type Session struct {
	Group       string                   `json:"group"`
	PerPlatform map[catalog.Platform]int `json:"per_platform"`
	Total       int                      `json:"total"`
}

// NewSession builds the session view of one sweep.
func NewSession(group string, counts SweepCounts) Session {
	s := Session{Group: group, PerPlatform: make(map[catalog.Platform]int, len(catalog.Order))}
	for _, p := range catalog.Order {
		s.PerPlatform[p] = counts[p]
		s.Total += counts[p]
	}
	return s
}

// SweepTally is what one group sweep contributes to the lifetime stats.
type SweepTally struct {
	Counts  SweepCounts
	New     int
	Update  int
	Exact   int
	AvgTime float64 // mean keyword wall time in seconds
}

// Aggregate folds a sweep into prev and returns the new stats. prev is not
// modified.
//
// The average is the running half-weight mean (prev+cur)/2, seeded with cur
// when there is no previous value.
func Aggregate(prev storage.GlobalStats, t SweepTally, now time.Time) storage.GlobalStats {
	next := storage.GlobalStats{
		PerPlatform:    make(map[catalog.Platform]int64, len(catalog.Order)),
		New:            prev.New + int64(t.New),
		Update:         prev.Update + int64(t.Update),
		Exact:          prev.Exact + int64(t.Exact),
		AvgKeywordTime: t.AvgTime,
		UpdatedAt:      now,
	}
	for p, n := range prev.PerPlatform {
		next.PerPlatform[p] = n
	}
	for p, n := range t.Counts {
		next.PerPlatform[p] += int64(n)
	}
	if prev.AvgKeywordTime > 0 {
		next.AvgKeywordTime = (prev.AvgKeywordTime + t.AvgTime) / 2
	}
	next.Normalize()
	return next
}
