// Package tuning applies live PID gain and motion constraint changes to
// subsystems and keeps a history of every change.
//
// Changes arrive as JSON on robocore/tuning/{subsystem}/gains and
// robocore/tuning/{subsystem}/constraints, or through the operator API.
// Both paths go through Service, which decodes the payload, fires the
// subsystem's live-tuning hook and records the accepted change in the
// tuning_history table.
//
// Gains payload:
//
//	{"slot": 1, "kp": 0.4, "ki": 0, "kd": 2.0, "kf": 0.05, "izone": 0}
//
// Constraints payload (null soft limits are disabled):
//
//	{"reverse_soft_limit": 0, "forward_soft_limit": 1.2,
//	 "cruise_velocity": 1.5, "max_acceleration": 3, "curve_strength": 2}
package tuning
