package action

import "time"

// RunOnce calls fn on its first tick and is finished from then on.
type RunOnce struct {
	fn  func()
	ran bool
}

// NewRunOnce creates an action that runs fn exactly once.
func NewRunOnce(fn func()) *RunOnce {
	return &RunOnce{fn: fn}
}

func (r *RunOnce) OnStart(float64) { r.ran = false }

func (r *RunOnce) OnLoop(float64, float64) {
	if r.ran {
		return
	}
	r.ran = true
	if r.fn != nil {
		r.fn()
	}
}

func (r *RunOnce) OnStop(float64)          {}
func (r *RunOnce) IsFinished(float64) bool { return r.ran }

// WaitUntil finishes when its predicate reports true.
type WaitUntil struct {
	pred func(ts float64) bool
}

// NewWaitUntil creates an action that waits for pred.
func NewWaitUntil(pred func(ts float64) bool) *WaitUntil {
	return &WaitUntil{pred: pred}
}

func (w *WaitUntil) OnStart(float64)         {}
func (w *WaitUntil) OnLoop(float64, float64) {}
func (w *WaitUntil) OnStop(float64)          {}

func (w *WaitUntil) IsFinished(ts float64) bool {
	return w.pred(ts)
}

// Timeout bounds a by d. It is a Race between a and a Wait; Winner reports
// 0 when a finished in time and 1 when the deadline fired first.
func Timeout(a Action, d time.Duration) *Race {
	return NewRace(a, NewWait(d))
}
