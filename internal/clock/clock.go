// Package clock provides the time source used by the control loop and
// autonomous routines.
//
// Timestamps are float64 seconds on a monotonic timeline with an arbitrary
// origin. Only differences between timestamps are meaningful.
package clock

import (
	"sync"
	"time"
)

// Clock is a monotonic time source that can also block the caller.
type Clock interface {
	// Now returns the current timestamp in seconds.
	Now() float64

	// Sleep blocks for d. Non-positive durations return immediately.
	Sleep(d time.Duration)
}

// Monotonic is a Clock backed by the runtime's monotonic clock.
type Monotonic struct {
	start time.Time
}

// NewMonotonic returns a Clock whose origin is the moment of the call.
func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now returns seconds elapsed since the clock was created.
func (m *Monotonic) Now() float64 {
	return time.Since(m.start).Seconds()
}

// Sleep blocks the calling goroutine for d.
func (m *Monotonic) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	time.Sleep(d)
}

// Manual is a Clock that only moves when told to. Sleep advances it
// instantly, so a routine paced by a Manual clock runs as fast as the CPU
// allows while seeing exact, reproducible timestamps.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Duration
}

// NewManual returns a Manual clock starting at the given timestamp in seconds.
func NewManual(start float64) *Manual {
	return &Manual{now: Seconds(start)}
}

// Now returns the current manual timestamp.
func (m *Manual) Now() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Seconds()
}

// Sleep advances the clock by d.
func (m *Manual) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	m.Advance(d)
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	m.mu.Unlock()
}

// Set jumps the clock to the given timestamp in seconds.
func (m *Manual) Set(ts float64) {
	m.mu.Lock()
	m.now = Seconds(ts)
	m.mu.Unlock()
}

// Seconds converts a float seconds value into a Duration, rounding to the
// nearest nanosecond.
func Seconds(s float64) time.Duration {
	if s >= 0 {
		return time.Duration(s*float64(time.Second) + 0.5)
	}
	return time.Duration(s*float64(time.Second) - 0.5)
}
