package action

// Parallel runs all children together and finishes once every child has
// finished at least once since the composite started.
//
// Finished children keep being ticked until the composite itself is
// stopped; OnStop stops every child regardless of its state.
type Parallel struct {
	actions  []Action
	finished []bool
}

// NewParallel creates a Parallel of the given actions.
func NewParallel(actions ...Action) *Parallel {
	return &Parallel{actions: actions}
}

func (p *Parallel) OnStart(ts float64) {
	p.finished = make([]bool, len(p.actions))
	for _, a := range p.actions {
		a.OnStart(ts)
	}
}

func (p *Parallel) OnLoop(ts, dt float64) {
	for i, a := range p.actions {
		a.OnLoop(ts, dt)
		if a.IsFinished(ts) {
			p.finished[i] = true
		}
	}
}

func (p *Parallel) OnStop(ts float64) {
	for _, a := range p.actions {
		a.OnStop(ts)
	}
}

// IsFinished latches each child's completion, so a child that finished
// once and later reports unfinished still counts.
func (p *Parallel) IsFinished(ts float64) bool {
	done := true
	for i, a := range p.actions {
		if !p.finished[i] && a.IsFinished(ts) {
			p.finished[i] = true
		}
		done = done && p.finished[i]
	}
	return done
}
