package mqttbridge

import "errors"

var (
	// ErrInvalidConfig is returned when the bus or motor is missing.
	ErrInvalidConfig = errors.New("mqttbridge: invalid config")

	// ErrNoState is returned by readings before the first state message.
	ErrNoState = errors.New("mqttbridge: no state received")

	// ErrStaleState is returned when the last state message is too old.
	ErrStaleState = errors.New("mqttbridge: state is stale")

	// ErrMotorFault is returned when the bridge reports a controller fault.
	ErrMotorFault = errors.New("mqttbridge: motor fault")

	// ErrBusOffline is returned by readings while the bridge process for the
	// motor's bus reports itself offline.
	ErrBusOffline = errors.New("mqttbridge: bus offline")

	// ErrQueueFull is returned when a command cannot be queued because the
	// broker is not keeping up.
	ErrQueueFull = errors.New("mqttbridge: command queue full")

	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("mqttbridge: bridge closed")
)
