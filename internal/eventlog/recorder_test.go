package eventlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// collectHandler stores every event it sees.
type collectHandler struct {
	mu     sync.Mutex
	events []Event
}

func (c *collectHandler) HandleEvent(_ context.Context, e Event) error {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	return nil
}

func (c *collectHandler) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// mockLogger captures warnings from the recorder.
type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Info(string, ...any)  {}
func (m *mockLogger) Error(string, ...any) {}
func (m *mockLogger) Warn(msg string, _ ...any) {
	m.mu.Lock()
	m.warns = append(m.warns, msg)
	m.mu.Unlock()
}

func (m *mockLogger) warnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.warns)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestRecorder_FansOutToAllHandlers(t *testing.T) {
	r := NewRecorder("bot-1", 0)
	first := &collectHandler{}
	second := &collectHandler{}
	r.AddHandler("first", first)
	r.AddHandler("second", second)
	r.Start(context.Background())
	defer r.Close() //nolint:errcheck // Test cleanup

	r.Record(EventRoutineStarted, "score")
	r.Record(EventRoutineCompleted, "score")

	waitFor(t, func() bool { return first.len() == 2 && second.len() == 2 })

	first.mu.Lock()
	got := first.events[0]
	first.mu.Unlock()
	if got.Name != EventRoutineStarted || got.Message != "score" {
		t.Errorf("first event = %+v, want routine.started/score", got)
	}
	if got.RobotID != "bot-1" {
		t.Errorf("RobotID = %q, want bot-1", got.RobotID)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Errorf("event missing ID or timestamp: %+v", got)
	}
}

func TestRecorder_FailingHandlerDoesNotStopOthers(t *testing.T) {
	r := NewRecorder("bot-1", 0)
	logger := &mockLogger{}
	r.SetLogger(logger)

	after := &collectHandler{}
	r.AddHandler("broken", HandlerFunc(func(context.Context, Event) error {
		return errors.New("broker offline")
	}))
	r.AddHandler("panicky", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))
	r.AddHandler("after", after)
	r.Start(context.Background())
	defer r.Close() //nolint:errcheck // Test cleanup

	r.Record(EventUnhandledFault, "unhandled fault: boom")

	waitFor(t, func() bool { return after.len() == 1 })
	waitFor(t, func() bool { return logger.warnCount() == 2 })
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	r := NewRecorder("bot-1", 2)

	for i := 0; i < 5; i++ {
		r.Record(EventModeChanged, "elevator")
	}

	stats := r.Stats()
	if stats.Recorded != 2 {
		t.Errorf("Recorded = %d, want 2", stats.Recorded)
	}
	if stats.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", stats.Dropped)
	}
	if stats.Queued != 2 {
		t.Errorf("Queued = %d, want 2", stats.Queued)
	}
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	r := NewRecorder("bot-1", 8)
	h := &collectHandler{}
	r.AddHandler("collect", h)

	r.Record(EventRoutineStarted, "a")
	r.Record(EventRoutineCompleted, "a")
	r.Start(context.Background())

	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if h.len() != 2 {
		t.Errorf("handled %d events after Close, want 2", h.len())
	}

	// Idempotent.
	if err := r.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRecorder_CloseWithoutStart(t *testing.T) {
	r := NewRecorder("bot-1", 0)
	if err := r.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	m.Record(EventModeChanged, "arm: open_loop -> position")
	m.Record(EventBackendError, "arm: bus timeout")
	m.Record(EventModeChanged, "arm: position -> velocity")

	if got := len(m.Events()); got != 3 {
		t.Errorf("len(Events()) = %d, want 3", got)
	}
	if got := m.Count(EventModeChanged); got != 2 {
		t.Errorf("Count(mode_changed) = %d, want 2", got)
	}
	if got := m.Named(EventBackendError)[0].Message; got != "arm: bus timeout" {
		t.Errorf("backend error message = %q", got)
	}

	m.Reset()
	if got := len(m.Events()); got != 0 {
		t.Errorf("len(Events()) after Reset = %d, want 0", got)
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic.
	Discard.Record(EventUnhandledFault, "ignored")
}
