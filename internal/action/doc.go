// Package action is the composable unit of autonomous work.
//
// An Action is a scheduler.Behavior with a completion predicate. Leaf
// actions (Wait, RunOnce, WaitUntil) do one thing; composites arrange
// children:
//
//   - Series runs children strictly one at a time in list order.
//   - Parallel starts every child together and finishes once each child
//     has finished at least once since the composite started.
//   - Race starts every child together and finishes as soon as any child
//     finishes, stopping all of them immediately.
//
// A Routine drives one root Action on its own goroutine at a fixed pacing
// period until the root finishes or Stop is called. Stop is polled between
// ticks; there is no pre-emption inside an OnLoop. The result is an
// explicit Outcome (completed, cancelled, faulted) and the root's OnStop
// always runs exactly once.
//
// The Launcher runs one Routine at a time behind the crash boundary and
// reports its status.
//
// Actions in a tree are driven from a single goroutine and are not safe for
// concurrent use. Cross-goroutine effects go through the subsystems they
// command, which are.
package action
