package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/robocore/internal/crash"
	"github.com/nerrad567/robocore/internal/eventlog"
)

// Status represents the launcher's view of its routine.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFaulted   Status = "faulted"
)

// Logger defines the logging interface for the launcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// LauncherStats counts routine runs by outcome.
type LauncherStats struct {
	Status    Status    `json:"status"`
	Routine   string    `json:"routine,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Started   uint64    `json:"started"`
	Completed uint64    `json:"completed"`
	Cancelled uint64    `json:"cancelled"`
	Faulted   uint64    `json:"faulted"`
}

// Launcher runs one Routine at a time on its own goroutine behind the
// crash boundary.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Launcher struct {
	sink   eventlog.Sink
	logger Logger

	mu        sync.Mutex
	current   *Routine
	status    Status
	startedAt time.Time
	lastFault *crash.Fault
	done      chan struct{}
	stats     LauncherStats
}

// NewLauncher creates an idle launcher. A nil sink discards events.
func NewLauncher(sink eventlog.Sink) *Launcher {
	if sink == nil {
		sink = eventlog.Discard
	}
	done := make(chan struct{})
	close(done)
	return &Launcher{
		sink:   sink,
		logger: noopLogger{},
		status: StatusIdle,
		done:   done,
	}
}

// SetLogger sets the logger for the launcher.
func (l *Launcher) SetLogger(logger Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
}

// Start runs r on a new goroutine. It fails if another routine is still
// running or r has already been run.
func (l *Launcher) Start(r *Routine) error {
	if r == nil {
		return ErrNilRoutine
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status == StatusRunning {
		return fmt.Errorf("starting %s: %w (%s)", r.Name(), ErrRoutineRunning, l.current.Name())
	}
	if r.Started() {
		return fmt.Errorf("starting %s: %w", r.Name(), ErrAlreadyStarted)
	}

	l.current = r
	l.status = StatusRunning
	l.startedAt = time.Now()
	l.lastFault = nil
	l.done = make(chan struct{})
	l.stats.Started++

	l.logger.Info("routine starting", "routine", r.Name(), "run_id", r.RunID())

	go l.run(r, l.done)
	return nil
}

func (l *Launcher) run(r *Routine, done chan struct{}) {
	defer close(done)

	var (
		outcome Outcome
		err     error
	)
	fault := crash.Guard("routine:"+r.Name(), l.sink, func() {
		outcome, err = r.Run()
	})

	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case fault != nil:
		l.status = StatusFaulted
		l.lastFault = fault
		l.stats.Faulted++
		l.logger.Error("routine faulted", "routine", r.Name(), "error", fault.Error())
	case err != nil:
		l.status = StatusFaulted
		l.stats.Faulted++
		l.logger.Error("routine failed to run", "routine", r.Name(), "error", err)
	case outcome == OutcomeCancelled:
		l.status = StatusCancelled
		l.stats.Cancelled++
		l.logger.Info("routine cancelled", "routine", r.Name(), "ticks", r.Ticks())
	default:
		l.status = StatusCompleted
		l.stats.Completed++
		l.logger.Info("routine completed",
			"routine", r.Name(),
			"ticks", r.Ticks(),
			"duration", time.Since(l.startedAt).String(),
		)
	}
}

// Stop requests cancellation of the running routine and returns without
// waiting for it to exit. Use Wait to block until it has.
func (l *Launcher) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusRunning || l.current == nil {
		return
	}
	l.logger.Info("routine stop requested", "routine", l.current.Name())
	l.current.Stop()
}

// Wait blocks until the current routine has exited or ctx is done.
func (l *Launcher) Wait(ctx context.Context) error {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for routine: %w", ctx.Err())
	}
}

// Status returns the launcher status.
func (l *Launcher) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// LastFault returns the fault from the most recent run, if it faulted.
func (l *Launcher) LastFault() *crash.Fault {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastFault
}

// Stats returns launcher counters and the current routine.
func (l *Launcher) Stats() LauncherStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.stats
	st.Status = l.status
	st.StartedAt = l.startedAt
	if l.current != nil {
		st.Routine = l.current.Name()
		st.RunID = l.current.RunID()
	}
	return st
}
