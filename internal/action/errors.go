package action

import "errors"

var (
	// ErrAlreadyStarted is returned when Run is called on a routine that has
	// already been run.
	ErrAlreadyStarted = errors.New("action: routine already started")

	// ErrRoutineRunning is returned when the launcher already has a routine
	// in flight.
	ErrRoutineRunning = errors.New("action: a routine is already running")

	// ErrNilRoutine is returned when the launcher is given no routine.
	ErrNilRoutine = errors.New("action: routine is nil")
)
