package eventlog

import (
	"sync"
	"time"
)

// Event names emitted by the control core.
const (
	EventRoutineStarted   = "routine.started"
	EventRoutineCompleted = "routine.completed"
	EventRoutineCancelled = "routine.cancelled"
	EventRoutineFaulted   = "routine.faulted"
	EventModeChanged      = "subsystem.mode_changed"
	EventBackendError     = "subsystem.backend_error"
	EventBackendRecovered = "subsystem.backend_recovered"
	EventSensorsZeroed    = "subsystem.zeroed"
	EventTuningApplied    = "subsystem.tuning_applied"
	EventUnhandledFault   = "fault.unhandled"
	EventLoopOverrun      = "scheduler.overrun"
)

// Sink receives named diagnostic events.
//
// Implementations must not block the caller and must not panic.
type Sink interface {
	Record(name, message string)
}

// Event is one recorded diagnostic event.
type Event struct {
	ID        string    `json:"id"`
	RobotID   string    `json:"robot_id"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(string, string) {}

// Memory is a synchronous Sink that keeps every event in order. It is used
// by tests and by the simulator to inspect what the core reported.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty Memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends the event.
func (m *Memory) Record(name, message string) {
	m.mu.Lock()
	m.events = append(m.events, Event{Name: name, Message: message, CreatedAt: time.Now().UTC()})
	m.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Named returns the recorded events with the given name.
func (m *Memory) Named(name string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events with the given name were recorded.
func (m *Memory) Count(name string) int {
	return len(m.Named(name))
}

// Reset discards all recorded events.
func (m *Memory) Reset() {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
}
