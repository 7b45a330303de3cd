package mqttbridge

import (
	"time"

	"github.com/nerrad567/robocore/internal/subsystem"
)

// Command names carried in CommandMessage.Command.
const (
	CommandMotionProfile = "motion_profile"
	CommandPosition      = "position"
	CommandVelocity      = "velocity"
	CommandOpenLoop      = "open_loop"
	CommandSelectSlot    = "select_slot"
	CommandZero          = "zero"
	CommandPIDGains      = "pid_gains"
	CommandConstraints   = "constraints"
)

// CommandMessage is published to the motor's command topic.
type CommandMessage struct {
	ID          string                       `json:"id"`
	Timestamp   time.Time                    `json:"timestamp"`
	Motor       string                       `json:"motor"`
	Command     string                       `json:"command"`
	Value       float64                      `json:"value"`
	Gains       *subsystem.PIDGains          `json:"gains,omitempty"`
	Constraints *subsystem.NativeConstraints `json:"constraints,omitempty"`
}

// StateMessage is received on the motor's state topic.
// Position is in native ticks; velocity in native ticks per timebase.
type StateMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Position  float64   `json:"position"`
	Velocity  float64   `json:"velocity"`
	Fault     string    `json:"fault,omitempty"`
}

// commandKey identifies an output command for deduplication.
type commandKey struct {
	command string
	value   float64
}

// Bus status values carried in HealthMessage.Status.
const (
	BusOnline  = "online"
	BusOffline = "offline"
)

// HealthMessage is the retained status a bridge process keeps on
// robocore/health/{bus}. The bridge's will message sets it offline.
type HealthMessage struct {
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
