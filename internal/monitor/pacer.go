package monitor

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Pacer sleeps a random duration between catalog calls.
type Pacer struct {
	mu    sync.Mutex
	float func() float64 // [0, 1)
}

// NewPacer returns a pacer drawing from rnd. A nil rnd uses math/rand.
func NewPacer(rnd *rand.Rand) *Pacer {
	p := &Pacer{float: rand.Float64}
	if rnd != nil {
		p.float = rnd.Float64
	}
	return p
}

// Duration samples uniformly from [lo, hi]. lo > hi is swapped and negative
// bounds clamp to zero.
func (p *Pacer) Duration(lo, hi time.Duration) time.Duration {
	lo, hi = max(lo, 0), max(hi, 0)
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo == hi {
		return lo
	}
	p.mu.Lock()
	f := p.float()
	p.mu.Unlock()
	return lo + time.Duration(f*float64(hi-lo))
}

// Wait blocks for a sampled duration or until ctx is done. It never fails.
func (p *Pacer) Wait(ctx context.Context, lo, hi time.Duration) {
	d := p.Duration(lo, hi)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
