package scheduler

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/robocore/internal/clock"
	"github.com/nerrad567/robocore/internal/eventlog"
)

// journal is shared by recorder behaviors to capture cross-behavior order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.entries = append(j.entries, s)
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.entries))
	copy(out, j.entries)
	return out
}

// recorder is a Behavior that logs every lifecycle call.
type recorder struct {
	name    string
	journal *journal

	mu      sync.Mutex
	started int
	stopped int
	dts     []float64
	stopTS  float64
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnStart(float64) {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
	if r.journal != nil {
		r.journal.add(r.name + ".start")
	}
}

func (r *recorder) OnLoop(_, dt float64) {
	r.mu.Lock()
	if r.started == 0 {
		panic("ticked before start")
	}
	r.dts = append(r.dts, dt)
	r.mu.Unlock()
	if r.journal != nil {
		r.journal.add(r.name + ".loop")
	}
}

func (r *recorder) OnStop(ts float64) {
	r.mu.Lock()
	r.stopped++
	r.stopTS = ts
	r.mu.Unlock()
	if r.journal != nil {
		r.journal.add(r.name + ".stop")
	}
}

func (r *recorder) ticks() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.dts))
	copy(out, r.dts)
	return out
}

// panicker faults on every tick.
type panicker struct{}

func (panicker) OnStart(float64)         {}
func (panicker) OnLoop(float64, float64) { panic("sensor nil") }
func (panicker) OnStop(float64)          {}

// newManualScheduler returns a scheduler on a manual clock with a period
// long enough that the ticker never fires during a test; tests drive
// ticks directly.
func newManualScheduler(sink eventlog.Sink) (*Scheduler, *clock.Manual) {
	clk := clock.NewManual(0)
	s := New(Config{Period: time.Hour, Clock: clk, Sink: sink})
	return s, clk
}

// tickOnce runs one tick for the current loop generation.
func tickOnce(s *Scheduler) bool {
	s.mu.Lock()
	stop := s.stopCh
	s.mu.Unlock()
	return s.tick(stop)
}

func TestScheduler_TicksInRegistrationOrder(t *testing.T) {
	j := &journal{}
	s, clk := newManualScheduler(nil)
	a := &recorder{name: "a", journal: j}
	b := &recorder{name: "b", journal: j}
	s.Register(a)
	s.Register(b)

	s.Start()
	clk.Advance(10 * time.Millisecond)
	tickOnce(s)
	clk.Advance(10 * time.Millisecond)
	tickOnce(s)
	s.Stop()

	want := []string{
		"a.start", "b.start",
		"a.loop", "b.loop",
		"a.loop", "b.loop",
		"a.stop", "b.stop",
	}
	got := j.snapshot()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestScheduler_DeliversDT(t *testing.T) {
	s, clk := newManualScheduler(nil)
	r := &recorder{name: "r"}
	s.Register(r)

	s.Start()
	for _, step := range []time.Duration{10, 12, 8, 30} {
		clk.Advance(step * time.Millisecond)
		tickOnce(s)
	}
	clk.Advance(5 * time.Millisecond)
	s.Stop()

	want := []float64{0.010, 0.012, 0.008, 0.030}
	got := r.ticks()
	if len(got) != len(want) {
		t.Fatalf("got %d ticks, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("dt[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if math.Abs(r.stopTS-0.065) > 1e-9 {
		t.Errorf("stop ts = %v, want 0.065", r.stopTS)
	}

	stats := s.Stats()
	if stats.Ticks != 4 {
		t.Errorf("Stats.Ticks = %d, want 4", stats.Ticks)
	}
	if math.Abs(stats.MaxDT-0.030) > 1e-9 {
		t.Errorf("Stats.MaxDT = %v, want 0.030", stats.MaxDT)
	}
}

func TestScheduler_RedundantStartStop(t *testing.T) {
	s, _ := newManualScheduler(nil)
	r := &recorder{name: "r"}
	s.Register(r)

	s.Stop() // idle: no-op
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()

	if r.started != 1 || r.stopped != 1 {
		t.Errorf("started=%d stopped=%d, want 1/1", r.started, r.stopped)
	}
	if s.Running() {
		t.Error("Running() = true after Stop")
	}
	if tickOnce(s) {
		t.Error("tickOnce() on stopped scheduler should report false")
	}
	if len(r.ticks()) != 0 {
		t.Error("behavior ticked while stopped")
	}
}

func TestScheduler_RegisterWhileRunningStartsFirst(t *testing.T) {
	s, clk := newManualScheduler(nil)
	s.Start()
	defer s.Stop()

	clk.Advance(10 * time.Millisecond)
	late := &recorder{name: "late"}
	s.Register(late)
	if late.started != 1 {
		t.Fatalf("late behavior started %d times, want 1", late.started)
	}

	clk.Advance(10 * time.Millisecond)
	tickOnce(s) // recorder panics if ticked unstarted
	if got := len(late.ticks()); got != 1 {
		t.Errorf("late behavior ticked %d times, want 1", got)
	}
}

func TestScheduler_FaultIsolatedPerBehavior(t *testing.T) {
	sink := eventlog.NewMemory()
	s, clk := newManualScheduler(sink)
	after := &recorder{name: "after"}
	s.Register(panicker{})
	s.Register(after)

	s.Start()
	for i := 0; i < 3; i++ {
		clk.Advance(10 * time.Millisecond)
		if !tickOnce(s) {
			t.Fatal("tick() stopped after a fault")
		}
	}
	s.Stop()

	if got := len(after.ticks()); got != 3 {
		t.Errorf("behavior after the faulting one ticked %d times, want 3", got)
	}
	if got := s.Stats().Faults; got != 3 {
		t.Errorf("Stats.Faults = %d, want 3", got)
	}
	if got := sink.Count(eventlog.EventUnhandledFault); got != 3 {
		t.Errorf("recorded %d faults, want 3", got)
	}
}

func TestScheduler_CountsOverruns(t *testing.T) {
	sink := eventlog.NewMemory()
	clk := clock.NewManual(0)
	s := New(Config{Period: time.Hour, Clock: clk, Sink: sink})
	s.Register(&recorder{name: "r"})
	s.Start()
	defer s.Stop()

	// The ticker keeps its hour period; overrun math now uses 10ms.
	s.mu.Lock()
	s.period = 10 * time.Millisecond
	s.mu.Unlock()

	for _, step := range []time.Duration{10, 40, 40, 10, 50} {
		clk.Advance(step * time.Millisecond)
		tickOnce(s)
	}

	if got := s.Stats().Overruns; got != 3 {
		t.Errorf("Stats.Overruns = %d, want 3", got)
	}
	// One event per transition into overrun.
	if got := sink.Count(eventlog.EventLoopOverrun); got != 2 {
		t.Errorf("recorded %d overrun events, want 2", got)
	}
}

func TestScheduler_WallClockTiming(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall-clock timing test in short mode")
	}

	period := 5 * time.Millisecond
	s := New(Config{Period: period})
	r := &recorder{name: "r"}
	s.Register(r)

	start := time.Now()
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()
	elapsed := time.Since(start).Seconds()

	dts := r.ticks()
	if len(dts) < 5 {
		t.Fatalf("only %d ticks in 150ms at 5ms period", len(dts))
	}

	var sum float64
	for i, dt := range dts {
		if dt < 0 {
			t.Errorf("dt[%d] = %v, want >= 0", i, dt)
		}
		sum += dt
	}

	// Sum of dt covers Start to the last tick; the gap to Stop is at most
	// about one period. Allow generous scheduling slack.
	slack := 2*period.Seconds() + 0.05
	if sum > elapsed || elapsed-sum > slack {
		t.Errorf("sum(dt) = %.4f, elapsed = %.4f, want within %.3f", sum, elapsed, slack)
	}
}

func TestScheduler_StaleLoopDoesNotTickAfterRestart(t *testing.T) {
	s, clk := newManualScheduler(nil)
	r := &recorder{name: "r"}
	s.Register(r)

	s.Start()
	s.mu.Lock()
	first := s.stopCh
	s.mu.Unlock()
	s.Stop()

	s.Start()
	defer s.Stop()
	clk.Advance(10 * time.Millisecond)

	// A loop goroutine of the first generation reaching tick after the
	// restart must not run alongside the new loop.
	if s.tick(first) {
		t.Error("tick() for a stopped generation reported true")
	}
	if n := len(r.ticks()); n != 0 {
		t.Errorf("behavior ticked %d times by the stale loop, want 0", n)
	}
	if !tickOnce(s) {
		t.Error("tickOnce() for the current generation reported false")
	}
}
