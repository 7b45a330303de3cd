package action

import (
	"fmt"
	"sync"
)

// trace is a shared, ordered record of lifecycle calls across stub actions.
type trace struct {
	mu      sync.Mutex
	entries []string
}

func (t *trace) add(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.entries = append(t.entries, fmt.Sprintf(format, args...))
	t.mu.Unlock()
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.entries))
	copy(out, t.entries)
	return out
}

// stubAction is an Action that finishes after a fixed number of ticks
// (finishAfter <= 0 means never) and counts its lifecycle calls.
type stubAction struct {
	name        string
	finishAfter int
	trace       *trace
	panicOnLoop bool

	starts, loops, stops int
	startTS, stopTS      float64
	dts                  []float64
}

func (p *stubAction) OnStart(ts float64) {
	p.starts++
	p.loops = 0
	p.startTS = ts
	p.trace.add("%s.start", p.name)
}

func (p *stubAction) OnLoop(_, dt float64) {
	if p.panicOnLoop {
		panic(p.name + " exploded")
	}
	p.loops++
	p.dts = append(p.dts, dt)
	p.trace.add("%s.loop", p.name)
}

func (p *stubAction) OnStop(ts float64) {
	p.stops++
	p.stopTS = ts
	p.trace.add("%s.stop", p.name)
}

func (p *stubAction) IsFinished(float64) bool {
	return p.finishAfter > 0 && p.loops >= p.finishAfter
}

// traced wraps an Action and records start/stop timestamps.
type traced struct {
	Action
	startTS, stopTS float64
	started         bool
}

func (t *traced) OnStart(ts float64) {
	t.started = true
	t.startTS = ts
	t.Action.OnStart(ts)
}

func (t *traced) OnStop(ts float64) {
	t.stopTS = ts
	t.Action.OnStop(ts)
}

// drive ticks a at a fixed step until it finishes or maxTicks is reached,
// the way a routine would, and returns the timestamp it finished at.
func drive(a Action, step float64, maxTicks int) (float64, bool) {
	ts := 0.0
	a.OnStart(ts)
	last := ts
	for i := 0; i < maxTicks; i++ {
		if a.IsFinished(ts) {
			a.OnStop(ts)
			return ts, true
		}
		a.OnLoop(ts, ts-last)
		last = ts
		if a.IsFinished(ts) {
			a.OnStop(ts)
			return ts, true
		}
		ts += step
	}
	return ts, false
}
