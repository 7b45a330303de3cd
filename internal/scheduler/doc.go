// Package scheduler drives registered Behaviors at a fixed target period.
//
// Every period the scheduler samples its clock, computes dt since the
// previous tick and calls OnLoop on each Behavior in registration order.
// Ticks, Start, Stop and Register share one mutex, so a tick never
// interleaves with a lifecycle transition or with another tick.
//
// Timing is driven by a time.Ticker on its own goroutine. A tick that runs
// long delays the next one; missed periods are dropped, never replayed, and
// the late tick simply sees a larger dt.
//
// A panic inside a Behavior is recovered per behavior by the crash
// boundary, recorded to the event sink and counted. The remaining behaviors
// still tick and later ticks still fire.
//
// Usage:
//
//	s := scheduler.New(scheduler.Config{Period: 10 * time.Millisecond})
//	s.Register(elevator)
//	s.Start()
//	defer s.Stop()
package scheduler
