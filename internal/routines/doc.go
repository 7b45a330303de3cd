// Package routines turns routine definitions from configuration into
// action trees bound to named subsystems.
//
// A definition is a tree of steps:
//
//	series | parallel | race   composite of Steps
//	timeout                    exactly one step, abandoned after Seconds
//	wait                       Seconds of idle time
//	setpoint                   drive Subsystem in Mode to Value; when
//	                           Tolerance > 0, wait until it is reached
//
// Action trees are stateful, so the Registry keeps definitions and builds a
// fresh tree for every routine it hands out. The built-in "idle" routine
// does nothing and completes immediately.
package routines
