// Package subsystem provides the generic closed-loop mechanism: a scheduler
// Behavior that accepts physical-unit setpoints (position, velocity,
// motion-profiled position, open-loop power) and turns them into native
// hardware commands.
//
// # Control modes
//
// A Subsystem is always in exactly one of four modes: OpenLoop (the
// default), MotionProfile, VelocityPID or PositionPID. Each setter may
// change the mode. Moving into a closed-loop mode selects that mode's PID
// slot on the hardware ("closed-loop entry"); a write that keeps the
// current mode does not, so a routine can update a setpoint every tick
// without reselecting the slot every tick.
//
// # Threading
//
// Setters are called from the routine goroutine; OnLoop is called from the
// scheduler goroutine. Setters only record the demand under the mutex and
// OnLoop applies it to the Backend under the same mutex, so a mode change
// and a hardware command never interleave. All hardware I/O from the
// control loop happens inside OnLoop.
//
// # Units
//
// Physical positions are "homed": the hardware's zero corresponds to
// HomePosition. Physical to native rounds to the nearest tick; native to
// physical divides exactly. Velocity in native units is ticks per
// VelocityTimebase seconds.
//
// # Failures
//
// Backend errors never stop the subsystem. The last good readings are kept
// and the event sink hears about the transition into and out of failure,
// not every failed call.
package subsystem
