// Package logging builds robocore's structured logger on log/slog.
//
// Entries are JSON by default, or text for bench work, and always carry
// the service name and build version:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The level is shared by every derived Logger and can be flipped to debug
// at runtime with ToggleDebug. Components that run at loop rate log
// through Throttle so a fault that repeats every tick is written once per
// interval with a count of what was suppressed.
//
// Never log operator tokens or the JWT secret.
package logging
