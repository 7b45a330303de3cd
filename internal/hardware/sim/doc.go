// Package sim is a simulated motor controller implementing
// subsystem.Backend.
//
// It honours all four control modes: open-loop power and velocity PID
// respond with a first-order lag, position PID approaches its target with
// the same lag, and motion-profile moves follow a trapezoidal profile
// limited by the pushed cruise velocity and acceleration. Soft limits,
// sensor zeroing and fault injection are supported.
//
// Physics advance from the supplied clock whenever the actuator is read or
// commanded, or explicitly through Step.
package sim
