package subsystem

// Backend is the hardware collaborator of a Subsystem: one implementation
// per motor-controller family. Positions are native ticks; velocities are
// native ticks per velocity timebase.
//
// A Subsystem calls a Backend from one goroutine at a time.
type Backend interface {
	SetMotionProfile(native int64) error
	SetPosition(native int64) error
	SetVelocity(native int64) error
	SetOpenLoop(power float64) error

	// SelectProfileSlot picks the PID slot used by closed-loop commands.
	SelectProfileSlot(slot int) error

	ZeroSensors() error
	ApplyPIDGains(g PIDGains) error
	ApplyMotionConstraints(c NativeConstraints) error

	Position() (float64, error)
	Velocity() (float64, error)
}
