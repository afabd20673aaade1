package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Cadence computes how long the monitor sleeps between cycles.
type Cadence struct {
	spec Spec
	cron cron.Schedule
	loc  *time.Location
}

// New parses raw and prepares it for Wait. A nil loc means time.Local.
func New(raw string, loc *time.Location) (*Cadence, error) {
	sp, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	c := &Cadence{spec: sp, loc: loc}
	if sp.Kind == KindCron {
		// already validated by Parse
		c.cron, _ = parser.Parse(sp.Cron)
	}
	return c, nil
}

// MustEvery returns a fixed-interval cadence. Non-positive values fall back to one second.
func MustEvery(d time.Duration) *Cadence {
	if d <= 0 {
		d = time.Second
	}
	return &Cadence{spec: Spec{Kind: KindInterval, Every: d, Source: "duration"}, loc: time.Local}
}

func (c *Cadence) Spec() Spec { return c.spec }

// Next returns the start time of the cycle following one that ended at now.
func (c *Cadence) Next(now time.Time) time.Time {
	if c.spec.Kind == KindCron && c.cron != nil {
		return c.cron.Next(now.In(c.loc))
	}
	return now.Add(c.spec.Every)
}

// Wait is Next(now) - now, rounded up to whole seconds so countdowns tick evenly.
func (c *Cadence) Wait(now time.Time) time.Duration {
	d := c.Next(now).Sub(now)
	if d <= 0 {
		return 0
	}
	if r := d % time.Second; r != 0 {
		d += time.Second - r
	}
	return d
}

func (c *Cadence) String() string {
	if c.spec.Kind == KindCron {
		return "cron " + c.spec.Cron
	}
	return "every " + c.spec.Every.String()
}
