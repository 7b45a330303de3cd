package eventlog

import (
	"errors"
	"fmt"
)

// ErrInvalidEvent is returned when an event is missing its name.
var ErrInvalidEvent = errors.New("eventlog: event name is required")

type handlerPanic struct {
	value any
}

func (p *handlerPanic) Error() string {
	return fmt.Sprintf("eventlog: handler panicked: %v", p.value)
}
