package action

// Series runs its children one after another in list order.
//
// Each tick it starts the next pending child if none is current, ticks the
// current child and, once that child reports finished, stops it and clears
// the slot. The next child starts on the following tick.
type Series struct {
	actions []Action
	pending []Action
	current Action
}

// NewSeries creates a Series of the given actions.
func NewSeries(actions ...Action) *Series {
	return &Series{actions: actions}
}

func (s *Series) OnStart(float64) {
	s.pending = append(s.pending[:0], s.actions...)
	s.current = nil
}

func (s *Series) OnLoop(ts, dt float64) {
	if s.current == nil {
		if len(s.pending) == 0 {
			return
		}
		s.current = s.pending[0]
		s.pending = s.pending[1:]
		s.current.OnStart(ts)
	}

	s.current.OnLoop(ts, dt)

	if s.current.IsFinished(ts) {
		s.current.OnStop(ts)
		s.current = nil
	}
}

// OnStop stops the current child, if any. Pending children are never
// started.
func (s *Series) OnStop(ts float64) {
	if s.current != nil {
		s.current.OnStop(ts)
		s.current = nil
	}
	s.pending = s.pending[:0]
}

func (s *Series) IsFinished(float64) bool {
	return len(s.pending) == 0 && s.current == nil
}
