package scheduler

// Behavior is the start/tick/stop lifecycle shared by everything the
// scheduler or a routine drives.
//
// Timestamps are seconds from the driving clock. OnStart always precedes
// the first OnLoop and OnStop follows the last one; a Behavior is never
// ticked before it is started.
type Behavior interface {
	OnStart(ts float64)
	OnLoop(ts, dt float64)
	OnStop(ts float64)
}

// Named is implemented by behaviors that want a readable name in fault
// reports and logs.
type Named interface {
	Name() string
}
