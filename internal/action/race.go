package action

// Race runs all children together and finishes as soon as any one of them
// finishes. At that point every child, finished or not, is stopped.
type Race struct {
	actions []Action
	winner  int
	stopped bool
}

// NewRace creates a Race of the given actions.
func NewRace(actions ...Action) *Race {
	return &Race{actions: actions, winner: -1}
}

func (r *Race) OnStart(ts float64) {
	r.winner = -1
	r.stopped = false
	for _, a := range r.actions {
		a.OnStart(ts)
	}
}

func (r *Race) OnLoop(ts, dt float64) {
	if r.stopped {
		return
	}
	for _, a := range r.actions {
		a.OnLoop(ts, dt)
	}
	if r.IsFinished(ts) {
		r.stopAll(ts)
	}
}

func (r *Race) OnStop(ts float64) {
	r.stopAll(ts)
}

func (r *Race) IsFinished(ts float64) bool {
	if r.winner >= 0 {
		return true
	}
	for i, a := range r.actions {
		if a.IsFinished(ts) {
			r.winner = i
			return true
		}
	}
	return false
}

// Winner returns the index of the first child seen finished, or -1.
func (r *Race) Winner() int {
	return r.winner
}

func (r *Race) stopAll(ts float64) {
	if r.stopped {
		return
	}
	r.stopped = true
	for _, a := range r.actions {
		a.OnStop(ts)
	}
}
