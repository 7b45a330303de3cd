// Package mqttbridge implements subsystem.Backend for motor controllers that
// sit behind an external bridge process speaking MQTT.
//
// Commands are published as JSON at QoS 0 to robocore/command/{bus}/{motor}.
// The bridge publishes native readings to robocore/state/{bus}/{motor}, which
// are cached and served to the subsystem on its next tick.
//
// A bridge process keeps a retained HealthMessage on robocore/health/{bus}.
// BusHealth follows it for every motor on the bus, and readings fail with
// ErrBusOffline while the bus is down.
//
// Output commands are deduplicated: an identical command to the one last
// sent is suppressed until the refresh interval has passed, so a holding
// setpoint costs one message per refresh instead of one per tick.
//
// Commands are queued and published by a writer goroutine; a tick never
// waits on the broker. When the queue is full the command is dropped and
// ErrQueueFull is returned, which the subsystem records as a backend
// failure.
//
// # Message Formats
//
// Command (core → bridge):
//
//	{
//	  "id": "4c7b2b1e-...",
//	  "timestamp": "2026-03-01T10:00:00.000Z",
//	  "motor": "elevator-left",
//	  "command": "motion_profile",
//	  "value": 4096
//	}
//
// State (bridge → core):
//
//	{
//	  "timestamp": "2026-03-01T10:00:00.010Z",
//	  "position": 4090,
//	  "velocity": 12,
//	  "fault": ""
//	}
package mqttbridge
