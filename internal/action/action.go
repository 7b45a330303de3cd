package action

import (
	"github.com/nerrad567/robocore/internal/scheduler"
)

// Action is a Behavior that knows when it is done.
//
// IsFinished may be called any time after OnStart and must not change
// state the action does not itself own.
type Action interface {
	scheduler.Behavior
	IsFinished(ts float64) bool
}
