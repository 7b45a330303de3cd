package routines

import "errors"

// Domain errors for the routines package.
var (
	// ErrRoutineNotFound is returned when no routine has the requested name.
	ErrRoutineNotFound = errors.New("routine: not found")

	// ErrRoutineExists is returned when registering a duplicate name.
	ErrRoutineExists = errors.New("routine: already exists")

	// ErrInvalidStep is returned when a step definition is malformed.
	ErrInvalidStep = errors.New("routine: invalid step")

	// ErrUnknownSubsystem is returned when a setpoint step names a
	// subsystem that does not exist.
	ErrUnknownSubsystem = errors.New("routine: unknown subsystem")
)
