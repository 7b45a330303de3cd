package subsystem

import (
	"fmt"
	"strings"
)

// ControlMode is the command mode of a Subsystem.
type ControlMode int

const (
	OpenLoop ControlMode = iota
	MotionProfile
	VelocityPID
	PositionPID
)

var modeNames = map[ControlMode]string{
	OpenLoop:      "open_loop",
	MotionProfile: "motion_profile",
	VelocityPID:   "velocity_pid",
	PositionPID:   "position_pid",
}

func (m ControlMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// UsesPositionControl reports whether the mode closes the loop on position.
func (m ControlMode) UsesPositionControl() bool {
	return m == MotionProfile || m == PositionPID
}

// UsesVelocityControl reports whether the mode closes the loop on velocity.
func (m ControlMode) UsesVelocityControl() bool {
	return m == VelocityPID
}

// IsClosedLoop reports whether the mode uses a PID slot.
func (m ControlMode) IsClosedLoop() bool {
	return m.UsesPositionControl() || m.UsesVelocityControl()
}

// MarshalText implements encoding.TextMarshaler.
func (m ControlMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ControlMode) UnmarshalText(b []byte) error {
	parsed, err := ParseControlMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseControlMode parses a mode name. The short forms "velocity" and
// "position" are accepted for the PID modes.
func ParseControlMode(s string) (ControlMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open_loop", "openloop", "power":
		return OpenLoop, nil
	case "motion_profile", "motionprofile", "profile":
		return MotionProfile, nil
	case "velocity_pid", "velocity":
		return VelocityPID, nil
	case "position_pid", "position":
		return PositionPID, nil
	default:
		return OpenLoop, fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}
