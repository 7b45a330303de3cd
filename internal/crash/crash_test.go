package crash

import (
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/robocore/internal/eventlog"
)

func TestGuard_NoPanic(t *testing.T) {
	sink := eventlog.NewMemory()
	ran := false

	if f := Guard("test", sink, func() { ran = true }); f != nil {
		t.Fatalf("Guard() = %v, want nil", f)
	}
	if !ran {
		t.Error("fn was not called")
	}
	if n := len(sink.Events()); n != 0 {
		t.Errorf("recorded %d events, want 0", n)
	}
}

func TestGuard_RecoversAndRecords(t *testing.T) {
	sink := eventlog.NewMemory()

	f := Guard("scheduler", sink, func() { panic("encoder unplugged") })
	if f == nil {
		t.Fatal("Guard() = nil, want fault")
	}
	if f.Context != "scheduler" || f.Value != "encoder unplugged" {
		t.Errorf("fault = %+v", f)
	}
	if !strings.Contains(f.Stack, "crash_test.go") {
		t.Error("stack should include the panicking frame")
	}
	if got := f.Error(); got != "scheduler: unhandled fault: encoder unplugged" {
		t.Errorf("Error() = %q", got)
	}

	events := sink.Named(eventlog.EventUnhandledFault)
	if len(events) != 1 {
		t.Fatalf("recorded %d faults, want 1", len(events))
	}
	if !strings.HasPrefix(events[0].Message, "unhandled fault: encoder unplugged") {
		t.Errorf("message = %q", events[0].Message)
	}
}

func TestGuard_UnwrapsErrorValues(t *testing.T) {
	cause := errors.New("nil backend")

	f := Guard("routine:score", nil, func() { panic(cause) })
	if !errors.Is(f, cause) {
		t.Errorf("errors.Is(fault, cause) = false for %v", f)
	}
}
