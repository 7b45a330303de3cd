package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/robocore/internal/clock"
	"github.com/nerrad567/robocore/internal/crash"
	"github.com/nerrad567/robocore/internal/eventlog"
)

// DefaultPeriod is used when Config.Period is zero.
const DefaultPeriod = 10 * time.Millisecond

// overrunFactor is how many periods a gap must exceed to count as an overrun.
const overrunFactor = 1.5

// Config holds scheduler settings.
type Config struct {
	// Period is the target interval between ticks.
	Period time.Duration

	// Clock provides timestamps. Defaults to a new monotonic clock.
	Clock clock.Clock

	// Sink receives fault and overrun events. Defaults to eventlog.Discard.
	Sink eventlog.Sink
}

// Logger defines the logging interface for the scheduler.
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

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Running   bool    `json:"running"`
	Behaviors int     `json:"behaviors"`
	Ticks     uint64  `json:"ticks"`
	Faults    uint64  `json:"faults"`
	Overruns  uint64  `json:"overruns"`
	LastDT    float64 `json:"last_dt"`
	MaxDT     float64 `json:"max_dt"`
	PeriodSec float64 `json:"period"`
}

// Scheduler ticks registered Behaviors at a fixed rate.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Scheduler struct {
	period time.Duration
	clock  clock.Clock
	sink   eventlog.Sink
	logger Logger

	mu        sync.Mutex
	behaviors []Behavior
	running   bool
	lastTS    float64
	overrun   bool
	stats     Stats

	stopCh chan struct{}
	done   chan struct{}
}

// New creates an idle scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewMonotonic()
	}
	if cfg.Sink == nil {
		cfg.Sink = eventlog.Discard
	}

	return &Scheduler{
		period: cfg.Period,
		clock:  cfg.Clock,
		sink:   cfg.Sink,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Period returns the target tick period.
func (s *Scheduler) Period() time.Duration {
	return s.period
}

// Register adds a Behavior. If the scheduler is already running the
// behavior is started immediately so it is never ticked unstarted.
func (s *Scheduler) Register(b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.behaviors = append(s.behaviors, b)
	if s.running {
		s.guard(b, func() { b.OnStart(s.clock.Now()) })
	}
}

// Start moves the scheduler from idle to running: every registered
// Behavior is started and the periodic ticker begins. Calling Start on a
// running scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	now := s.clock.Now()
	s.running = true
	s.lastTS = now
	s.overrun = false
	for _, b := range s.behaviors {
		s.guard(b, func() { b.OnStart(now) })
	}

	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stopCh, s.done)

	s.logger.Info("scheduler started",
		"period", s.period.String(),
		"behaviors", len(s.behaviors),
	)
}

// Stop halts the ticker and stops every Behavior with the stop timestamp.
// It waits for the ticker goroutine to exit. Calling Stop on an idle
// scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}

	s.running = false
	close(s.stopCh)
	now := s.clock.Now()
	for _, b := range s.behaviors {
		s.guard(b, func() { b.OnStop(now) })
	}
	done := s.done
	ticks := s.stats.Ticks
	s.mu.Unlock()

	<-done

	s.logger.Info("scheduler stopped", "ticks", ticks)
}

// Running reports whether the scheduler is running.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Running = s.running
	st.Behaviors = len(s.behaviors)
	st.PeriodSec = s.period.Seconds()
	return st
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.tick(stop) {
				return
			}
		}
	}
}

// tick runs one period for the loop generation identified by stop. It
// returns false once that generation has been stopped, even if a later
// Start is already running a new one.
func (s *Scheduler) tick(stop <-chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || stop != s.stopCh {
		return false
	}

	now := s.clock.Now()
	dt := now - s.lastTS
	if dt < 0 {
		dt = 0
	}

	for _, b := range s.behaviors {
		s.guard(b, func() { b.OnLoop(now, dt) })
	}
	s.lastTS = now

	s.stats.Ticks++
	s.stats.LastDT = dt
	if dt > s.stats.MaxDT {
		s.stats.MaxDT = dt
	}
	s.trackOverrun(dt)

	return true
}

// trackOverrun counts late ticks and records an event when the loop first
// falls behind.
func (s *Scheduler) trackOverrun(dt float64) {
	late := dt > s.period.Seconds()*overrunFactor
	if late {
		s.stats.Overruns++
		if !s.overrun {
			s.sink.Record(eventlog.EventLoopOverrun,
				fmt.Sprintf("tick gap %.1fms exceeds period %s", dt*1000, s.period))
			s.logger.Warn("scheduler overrun", "dt", dt, "period", s.period.String())
		}
	}
	s.overrun = late
}

// guard runs fn inside the crash boundary, counting any fault.
// Callers hold s.mu.
func (s *Scheduler) guard(b Behavior, fn func()) {
	if f := crash.Guard(behaviorName(b), s.sink, fn); f != nil {
		s.stats.Faults++
		s.logger.Error("behavior fault", "behavior", f.Context, "error", f.Error())
	}
}

func behaviorName(b Behavior) string {
	if n, ok := b.(Named); ok {
		return "scheduler:" + n.Name()
	}
	return fmt.Sprintf("scheduler:%T", b)
}
