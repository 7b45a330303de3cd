// Package api implements the operator HTTP API and WebSocket event stream.
//
// This package provides:
//   - Read endpoints for subsystem snapshots, routines, events and metrics
//   - Live tuning endpoints for PID gains and motion constraints
//   - Routine start/stop through the launcher
//   - WebSocket hub that relays diagnostic events as they are recorded
//   - Request IDs, access logging, panic recovery, CORS and a body size cap
//
// # Security
//
// Every route that moves or reconfigures a mechanism requires an HS256 JWT
// bearer token signed with security.jwt.secret. Read routes and the event
// stream are open so pit displays can watch without credentials.
//
// # Graceful Degradation
//
// Tuning, event history and MQTT are optional. Routes whose dependency is
// missing answer 503 rather than failing at start-up.
package api
