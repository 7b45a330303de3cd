package mqtt

// Root is the first level of every robocore topic.
const Root = "robocore"

// Topics builds robocore topic names. Motor bridges use
// robocore/{command,state}/{bus}/{motor} and robocore/health/{bus}; the
// core publishes under telemetry, event and system, and listens under
// tuning.
type Topics struct{}

// MotorCommand is where a motor's bridge reads commands:
// robocore/command/can0/elevator-left.
func (Topics) MotorCommand(bus, motor string) string {
	return Root + "/command/" + bus + "/" + motor
}

// MotorState is where a motor's bridge publishes readings:
// robocore/state/can0/elevator-left.
func (Topics) MotorState(bus, motor string) string {
	return Root + "/state/" + bus + "/" + motor
}

// BridgeHealth carries the retained online/offline status of the bridge
// process serving a bus: robocore/health/can0.
func (Topics) BridgeHealth(bus string) string {
	return Root + "/health/" + bus
}

// Telemetry is the per-subsystem telemetry topic: robocore/telemetry/elevator.
func (Topics) Telemetry(subsystem string) string {
	return Root + "/telemetry/" + subsystem
}

// SchedulerTelemetry carries loop statistics: robocore/telemetry/_scheduler.
func (Topics) SchedulerTelemetry() string {
	return Root + "/telemetry/_scheduler"
}

// TuningGains receives gain updates: robocore/tuning/elevator/gains.
func (Topics) TuningGains(subsystem string) string {
	return Root + "/tuning/" + subsystem + "/gains"
}

// TuningConstraints receives constraint updates:
// robocore/tuning/elevator/constraints.
func (Topics) TuningConstraints(subsystem string) string {
	return Root + "/tuning/" + subsystem + "/constraints"
}

// Event carries one named event: robocore/event/routine.started.
func (Topics) Event(name string) string {
	return Root + "/event/" + name
}

// SystemStatus carries the retained robot status: robocore/system/status.
func (Topics) SystemStatus() string {
	return Root + "/system/status"
}
