package subsystem

import "errors"

var (
	// ErrNilBackend is returned when a Subsystem is built without hardware.
	ErrNilBackend = errors.New("subsystem: backend is nil")

	// ErrInvalidConfig is returned for non-physical conversion factors.
	ErrInvalidConfig = errors.New("subsystem: invalid configuration")

	// ErrUnknownMode is returned when a mode name cannot be parsed.
	ErrUnknownMode = errors.New("subsystem: unknown control mode")

	// ErrUnknownSlot is returned when live-tuned gains name a slot the
	// subsystem does not use.
	ErrUnknownSlot = errors.New("subsystem: unknown PID slot")

	// ErrInvalidConstraints is returned for negative limits, inverted soft
	// limits or an out-of-range curve strength.
	ErrInvalidConstraints = errors.New("subsystem: invalid motion constraints")
)
