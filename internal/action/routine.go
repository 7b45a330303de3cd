package action

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/robocore/internal/clock"
	"github.com/nerrad567/robocore/internal/eventlog"
)

// DefaultPacing is the routine tick period used when none is configured.
const DefaultPacing = 20 * time.Millisecond

// Outcome is how a routine run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFaulted   Outcome = "faulted"
)

// RoutineConfig holds the settings for a single routine run.
type RoutineConfig struct {
	// Name identifies the routine in events and logs.
	Name string

	// Root is the action tree to run. A nil root finishes immediately.
	Root Action

	// StartDelay is waited out before the root starts.
	StartDelay time.Duration

	// Period is the target pacing period between root ticks.
	Period time.Duration

	// Clock provides timestamps and sleeping. Defaults to a monotonic clock.
	Clock clock.Clock

	// Sink receives lifecycle events. Defaults to eventlog.Discard.
	Sink eventlog.Sink

	// OnDone is called exactly once with the final outcome.
	OnDone func(Outcome)
}

// Routine drives one root Action to completion or cancellation.
//
// A Routine is single use: Run may be called once. Stop may be called from
// any goroutine at any time, including before Run.
type Routine struct {
	name       string
	runID      string
	root       Action
	startDelay time.Duration
	period     float64
	clock      clock.Clock
	sink       eventlog.Sink
	onDone     func(Outcome)

	started       atomic.Bool
	running       atomic.Bool
	stopRequested atomic.Bool

	doneOnce sync.Once
	mu       sync.Mutex
	outcome  Outcome
	ticks    uint64
}

// NewRoutine creates a routine from cfg.
func NewRoutine(cfg RoutineConfig) *Routine {
	if cfg.Root == nil {
		cfg.Root = NewSeries()
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPacing
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewMonotonic()
	}
	if cfg.Sink == nil {
		cfg.Sink = eventlog.Discard
	}
	if cfg.Name == "" {
		cfg.Name = "routine"
	}

	return &Routine{
		name:       cfg.Name,
		runID:      uuid.NewString(),
		root:       cfg.Root,
		startDelay: cfg.StartDelay,
		period:     cfg.Period.Seconds(),
		clock:      cfg.Clock,
		sink:       cfg.Sink,
		onDone:     cfg.OnDone,
	}
}

// Name returns the routine name.
func (r *Routine) Name() string { return r.name }

// RunID returns a unique identifier for this routine instance.
func (r *Routine) RunID() string { return r.runID }

// Running reports whether Run is executing and no stop has been requested.
func (r *Routine) Running() bool {
	return r.running.Load() && !r.stopRequested.Load()
}

// Started reports whether Run has been called.
func (r *Routine) Started() bool { return r.started.Load() }

// Stop requests cancellation. It returns immediately; the routine unwinds
// at its next poll, after any in-progress tick returns.
func (r *Routine) Stop() {
	r.stopRequested.Store(true)
}

// Outcome returns the final outcome once the routine is done.
func (r *Routine) Outcome() (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, r.outcome != ""
}

// Ticks returns how many times the root has been ticked.
func (r *Routine) Ticks() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticks
}

// Run executes the routine on the calling goroutine and blocks until it
// completes or is cancelled.
//
// A panic inside the tree is not recovered here: the root is stopped, the
// faulted outcome is reported and the panic continues to the caller's
// crash boundary.
func (r *Routine) Run() (Outcome, error) {
	if !r.started.CompareAndSwap(false, true) {
		return "", ErrAlreadyStarted
	}

	if r.stopRequested.Load() {
		r.finish(OutcomeCancelled)
		return OutcomeCancelled, nil
	}

	r.running.Store(true)
	r.sink.Record(eventlog.EventRoutineStarted, fmt.Sprintf("%s (run %s)", r.name, r.runID))

	outcome := OutcomeFaulted
	defer func() {
		r.running.Store(false)
		r.finish(outcome)
	}()

	if r.startDelay > 0 {
		delayed := r.drive(NewWait(r.startDelay))
		if delayed != OutcomeCompleted {
			outcome = delayed
			return outcome, nil
		}
	}

	// outcome stays faulted if the root panics.
	rootOutcome := r.drive(r.root)
	outcome = rootOutcome
	return outcome, nil
}

// drive runs a to completion or cancellation, pacing ticks against
// absolute deadlines so tick cost does not accumulate as drift. A late tick
// is not followed by catch-up ticks. OnStop runs exactly once however the
// drive ends, including by panic.
func (r *Routine) drive(a Action) Outcome {
	now := r.clock.Now()
	start, last := now, now

	a.OnStart(now)
	defer func() {
		a.OnStop(r.clock.Now())
	}()

	var k float64
	for !a.IsFinished(now) {
		if r.stopRequested.Load() {
			return OutcomeCancelled
		}

		a.OnLoop(now, now-last)
		last = now
		r.mu.Lock()
		r.ticks++
		r.mu.Unlock()

		if a.IsFinished(now) {
			break
		}

		k++
		now = r.clock.Now()
		next := start + k*r.period
		if next < now {
			// Behind schedule: skip the missed deadlines.
			k = math.Floor((now-start)/r.period) + 1
			next = start + k*r.period
		}
		r.clock.Sleep(clock.Seconds(next - now))
		now = r.clock.Now()
	}

	return OutcomeCompleted
}

func (r *Routine) finish(o Outcome) {
	r.doneOnce.Do(func() {
		r.mu.Lock()
		r.outcome = o
		r.mu.Unlock()

		name := eventlog.EventRoutineCompleted
		switch o {
		case OutcomeCancelled:
			name = eventlog.EventRoutineCancelled
		case OutcomeFaulted:
			name = eventlog.EventRoutineFaulted
		}
		r.sink.Record(name, fmt.Sprintf("%s (run %s)", r.name, r.runID))

		if r.onDone != nil {
			r.onDone(o)
		}
	})
}
