package tuning

import "errors"

var (
	// ErrUnknownSubsystem is returned when no subsystem has the given name.
	ErrUnknownSubsystem = errors.New("tuning: unknown subsystem")

	// ErrInvalidPayload is returned when a change cannot be decoded.
	ErrInvalidPayload = errors.New("tuning: invalid payload")

	// ErrInvalidChange is returned when a history record is incomplete.
	ErrInvalidChange = errors.New("tuning: subsystem and kind are required")
)
