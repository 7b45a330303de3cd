package action

import "time"

// waitEpsilon absorbs float rounding so a wait that should end exactly on
// a tick boundary does.
const waitEpsilon = 1e-9

// Wait finishes once a fixed duration has elapsed since it started.
type Wait struct {
	duration float64
	start    float64
}

// NewWait creates a Wait of duration d.
func NewWait(d time.Duration) *Wait {
	return &Wait{duration: d.Seconds()}
}

func (w *Wait) OnStart(ts float64)      { w.start = ts }
func (w *Wait) OnLoop(float64, float64) {}
func (w *Wait) OnStop(float64)          {}

func (w *Wait) IsFinished(ts float64) bool {
	return ts-w.start+waitEpsilon >= w.duration
}
