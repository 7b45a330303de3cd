// Package crash is the fault boundary for goroutines that run robot code.
//
// An unhandled panic inside a behavior or routine must not take the whole
// process down silently: it is recovered, reported to the event sink as
// "unhandled fault: <value>" together with its stack, and handed back to
// the caller as a *Fault so the caller can decide what stops.
package crash

import (
	"fmt"
	"runtime/debug"

	"github.com/nerrad567/robocore/internal/eventlog"
)

// Fault describes a recovered panic.
type Fault struct {
	// Context names the boundary that caught the panic, e.g. "scheduler" or
	// "routine:score".
	Context string

	// Value is the value passed to panic.
	Value any

	// Stack is the goroutine stack at the point of recovery.
	Stack string
}

// Error implements error.
func (f *Fault) Error() string {
	return fmt.Sprintf("%s: unhandled fault: %v", f.Context, f.Value)
}

// Unwrap returns the panic value when it was itself an error.
func (f *Fault) Unwrap() error {
	if err, ok := f.Value.(error); ok {
		return err
	}
	return nil
}

// Guard runs fn and recovers any panic it raises. A recovered panic is
// recorded to sink and returned; a normal return yields nil.
func Guard(context string, sink eventlog.Sink, fn func()) (fault *Fault) {
	defer func() {
		if r := recover(); r != nil {
			fault = Report(context, sink, r)
		}
	}()
	fn()
	return nil
}

// Report builds a Fault for a value already obtained from recover and
// records it. It is for callers that need their own deferred recover.
func Report(context string, sink eventlog.Sink, value any) *Fault {
	f := &Fault{
		Context: context,
		Value:   value,
		Stack:   string(debug.Stack()),
	}
	if sink == nil {
		sink = eventlog.Discard
	}
	sink.Record(eventlog.EventUnhandledFault, fmt.Sprintf("unhandled fault: %v\n%s", value, f.Stack))
	return f
}
