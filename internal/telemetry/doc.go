// Package telemetry samples subsystems on the control loop and publishes
// the samples off the loop.
//
// A Sampler is registered with the scheduler like any other behavior.
// Every N ticks it snapshots each subsystem and queues the frame without
// blocking; a background goroutine adds scheduler statistics and publishes
// the frame as JSON on robocore/telemetry/{subsystem} and as InfluxDB
// points. A slow broker or database costs dropped frames, never a late
// tick.
package telemetry
