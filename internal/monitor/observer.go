package monitor

import "appwatch/internal/storage"

// Observer receives progress from the loop goroutine. Any field may be nil.
// Callbacks run synchronously and must not call back into the engine.
type Observer struct {
	OnLog       func(msg string)
	OnProgress  func(percent int)
	OnStats     func(session Session, global storage.GlobalStats)
	OnCountdown func(remaining int)
}

// Tee returns an observer that calls every non-nil callback of obs in order.
func Tee(obs ...Observer) Observer {
	return Observer{
		OnLog: func(msg string) {
			for _, o := range obs {
				if o.OnLog != nil {
					o.OnLog(msg)
				}
			}
		},
		OnProgress: func(p int) {
			for _, o := range obs {
				if o.OnProgress != nil {
					o.OnProgress(p)
				}
			}
		},
		OnStats: func(s Session, g storage.GlobalStats) {
			for _, o := range obs {
				if o.OnStats != nil {
					o.OnStats(s, g)
				}
			}
		},
		OnCountdown: func(n int) {
			for _, o := range obs {
				if o.OnCountdown != nil {
					o.OnCountdown(n)
				}
			}
		},
	}
}

func (o Observer) log(msg string) {
	if o.OnLog != nil {
		o.OnLog(msg)
	}
}

func (o Observer) progress(p int) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o Observer) stats(s Session, g storage.GlobalStats) {
	if o.OnStats != nil {
		o.OnStats(s, g)
	}
}

func (o Observer) countdown(n int) {
	if o.OnCountdown != nil {
		o.OnCountdown(n)
	}
}
