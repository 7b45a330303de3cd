package subsystem

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/nerrad567/robocore/internal/eventlog"
)

// DefaultVelocityTimebase is the native velocity window: ticks per 100ms.
const DefaultVelocityTimebase = 0.1

// Config describes one mechanism.
type Config struct {
	// Name identifies the subsystem in events, telemetry and the API.
	Name string

	// TicksPerUnit converts one physical unit into native ticks.
	TicksPerUnit float64

	// VelocityTimebase is the window, in seconds, native velocity is
	// measured over. Defaults to DefaultVelocityTimebase.
	VelocityTimebase float64

	// HomePosition is the physical position at native zero.
	HomePosition float64

	MotionProfileGains PIDGains
	PositionGains      PIDGains
	VelocityGains      PIDGains

	Constraints MotionConstraints

	// Sink receives mode, health and tuning events.
	Sink eventlog.Sink
}

// Logger defines the logging interface for subsystems.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Subsystem is a generic closed-loop mechanism.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Subsystem struct {
	name         string
	ticksPerUnit float64
	timebase     float64
	home         float64
	backend      Backend
	sink         eventlog.Sink
	logger       Logger

	mu          sync.Mutex
	mode        ControlMode
	setpoint    float64 // physical, after clamping
	demand      float64 // native command, or power in open loop
	slotPending bool
	pendingSlot int
	entries     uint64

	mpGains     PIDGains
	posGains    PIDGains
	velGains    PIDGains
	constraints MotionConstraints

	position float64 // last good physical reading
	velocity float64
	healthy  bool
	lastErr  error
	failures uint64
	zeroed   bool
}

// New builds a Subsystem on backend and pushes its gains and constraints.
// Push failures are recorded, not returned; the hardware may come up later.
func New(cfg Config, backend Backend) (*Subsystem, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if cfg.TicksPerUnit <= 0 || math.IsNaN(cfg.TicksPerUnit) || math.IsInf(cfg.TicksPerUnit, 0) {
		return nil, fmt.Errorf("%w: ticks per unit must be positive, got %v", ErrInvalidConfig, cfg.TicksPerUnit)
	}
	if cfg.VelocityTimebase == 0 {
		cfg.VelocityTimebase = DefaultVelocityTimebase
	}
	if cfg.VelocityTimebase < 0 {
		return nil, fmt.Errorf("%w: velocity timebase must be positive", ErrInvalidConfig)
	}
	if err := cfg.Constraints.Validate(); err != nil {
		return nil, err
	}
	if cfg.Sink == nil {
		cfg.Sink = eventlog.Discard
	}

	s := &Subsystem{
		name:         cfg.Name,
		ticksPerUnit: cfg.TicksPerUnit,
		timebase:     cfg.VelocityTimebase,
		home:         cfg.HomePosition,
		backend:      backend,
		sink:         cfg.Sink,
		logger:       noopLogger{},
		mode:         OpenLoop,
		mpGains:      cfg.MotionProfileGains,
		posGains:     cfg.PositionGains,
		velGains:     cfg.VelocityGains,
		constraints:  cfg.Constraints,
		healthy:      true,
		position:     cfg.HomePosition,
	}

	_ = s.UpdatePIDGains()          //nolint:errcheck // recorded to the sink
	_ = s.UpdateMotionConstraints() //nolint:errcheck // recorded to the sink

	s.mu.Lock()
	s.updateHealth(s.readInputs())
	s.mu.Unlock()

	return s, nil
}

// SetLogger sets the logger for the subsystem.
func (s *Subsystem) SetLogger(logger Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Name returns the subsystem name.
func (s *Subsystem) Name() string { return s.name }

// --- Behavior ---

// OnStart refreshes the cached readings.
func (s *Subsystem) OnStart(float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateHealth(s.readInputs())
}

// OnLoop reads the sensors, performs any pending closed-loop entry and
// sends the current demand to the hardware.
func (s *Subsystem) OnLoop(float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.readInputs()
	if werr := s.writeOutputs(); err == nil {
		err = werr
	}
	s.updateHealth(err)
}

// OnStop drops to open-loop neutral and commands it immediately.
func (s *Subsystem) OnStop(float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transition(OpenLoop)
	s.slotPending = false
	s.demand = 0
	s.setpoint = 0
	s.updateHealth(s.backend.SetOpenLoop(0))
}

// --- Setpoints ---

// SetOpenLoopPower commands raw power in [-1, 1]. It never performs
// closed-loop entry.
func (s *Subsystem) SetOpenLoopPower(power float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transition(OpenLoop)
	s.slotPending = false
	s.setpoint = power
	s.demand = power
}

// SetVelocitySetpoint commands a velocity in physical units per second,
// clamped to the cruise velocity.
func (s *Subsystem) SetVelocitySetpoint(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enter(VelocityPID, s.velGains.Slot)
	if cruise := s.constraints.CruiseVelocity; cruise > 0 {
		v = clamp(v, -cruise, cruise)
	}
	s.setpoint = v
	s.demand = float64(s.velocityToNative(v))
}

// SetPositionSetpointMotionProfile commands a motion-profiled move to x,
// clamped to the soft limits.
func (s *Subsystem) SetPositionSetpointMotionProfile(x float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enter(MotionProfile, s.mpGains.Slot)
	s.setPosition(x)
}

// SetPositionSetpointPID commands a direct PID move to x, clamped to the
// soft limits.
func (s *Subsystem) SetPositionSetpointPID(x float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enter(PositionPID, s.posGains.Slot)
	s.setPosition(x)
}

// Set dispatches to the setter for mode.
func (s *Subsystem) Set(mode ControlMode, value float64) {
	switch mode {
	case MotionProfile:
		s.SetPositionSetpointMotionProfile(value)
	case PositionPID:
		s.SetPositionSetpointPID(value)
	case VelocityPID:
		s.SetVelocitySetpoint(value)
	default:
		s.SetOpenLoopPower(value)
	}
}

func (s *Subsystem) setPosition(x float64) {
	x = clampSoftLimits(x, s.constraints.ReverseSoftLimit, s.constraints.ForwardSoftLimit)
	s.setpoint = x
	s.demand = float64(s.HomedUnitsToTicks(x))
}

// enter moves into a closed-loop mode. Closed-loop entry (slot selection)
// only happens when the current mode lacks the capability the new mode
// controls, so switching between the two position modes keeps the slot.
func (s *Subsystem) enter(mode ControlMode, slot int) {
	capable := s.mode.UsesVelocityControl()
	if mode.UsesPositionControl() {
		capable = s.mode.UsesPositionControl()
	}
	s.transition(mode)
	if capable {
		return
	}
	s.slotPending = true
	s.pendingSlot = slot
	s.entries++
}

func (s *Subsystem) transition(mode ControlMode) {
	if s.mode == mode {
		return
	}
	s.sink.Record(eventlog.EventModeChanged, fmt.Sprintf("%s: %s -> %s", s.name, s.mode, mode))
	s.logger.Debug("control mode changed", "subsystem", s.name, "from", s.mode.String(), "to", mode.String())
	s.mode = mode
}

// --- Readings ---

// Position returns the last measured position in physical units.
func (s *Subsystem) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Velocity returns the last measured velocity in physical units per second.
func (s *Subsystem) Velocity() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.velocity
}

// Mode returns the current control mode.
func (s *Subsystem) Mode() ControlMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Setpoint returns the last commanded setpoint after clamping. In open
// loop it is the commanded power.
func (s *Subsystem) Setpoint() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setpoint
}

// ClosedLoopEntries counts how many times a closed-loop mode was entered.
func (s *Subsystem) ClosedLoopEntries() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}

// AtSetpoint reports whether the measured value is within tolerance of
// the setpoint for the current closed-loop mode. Open loop has no target
// and always reports true.
func (s *Subsystem) AtSetpoint(tolerance float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.mode.UsesPositionControl():
		return math.Abs(s.position-s.setpoint) <= tolerance
	case s.mode.UsesVelocityControl():
		return math.Abs(s.velocity-s.setpoint) <= tolerance
	default:
		return true
	}
}

// HasBeenZeroed reports whether ZeroSensors has succeeded at least once.
func (s *Subsystem) HasBeenZeroed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zeroed
}

// Healthy reports whether the last hardware exchange succeeded.
func (s *Subsystem) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Snapshot is a consistent view of a subsystem for telemetry and the API.
type Snapshot struct {
	Name              string            `json:"name"`
	Mode              ControlMode       `json:"mode"`
	Setpoint          float64           `json:"setpoint"`
	Position          float64           `json:"position"`
	Velocity          float64           `json:"velocity"`
	Healthy           bool              `json:"healthy"`
	LastError         string            `json:"last_error,omitempty"`
	Failures          uint64            `json:"failures"`
	Zeroed            bool              `json:"zeroed"`
	ClosedLoopEntries uint64            `json:"closed_loop_entries"`
	Gains             [3]PIDGains       `json:"gains"`
	Constraints       MotionConstraints `json:"constraints"`
}

// Snapshot returns the subsystem's state under a single lock.
func (s *Subsystem) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Name:              s.name,
		Mode:              s.mode,
		Setpoint:          s.setpoint,
		Position:          s.position,
		Velocity:          s.velocity,
		Healthy:           s.healthy,
		Failures:          s.failures,
		Zeroed:            s.zeroed,
		ClosedLoopEntries: s.entries,
		Gains:             [3]PIDGains{s.mpGains, s.posGains, s.velGains},
		Constraints:       s.constraints,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// --- Hardware maintenance ---

// ZeroSensors makes the current position native zero (physical home).
// The control mode is unchanged.
func (s *Subsystem) ZeroSensors() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.ZeroSensors(); err != nil {
		s.updateHealth(err)
		return fmt.Errorf("zeroing %s: %w", s.name, err)
	}
	s.zeroed = true
	s.position = s.home
	s.sink.Record(eventlog.EventSensorsZeroed, s.name)
	return nil
}

// UpdatePIDGains pushes all three gain sets to the hardware. Calling it
// again with unchanged gains has no further effect.
func (s *Subsystem) UpdatePIDGains() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushGains()
}

// UpdateMotionConstraints pushes the motion constraints to the hardware in
// native units.
func (s *Subsystem) UpdateMotionConstraints() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushConstraints()
}

// SetPIDGains replaces the gain set using g.Slot and pushes it. This is
// the live-tuning hook.
func (s *Subsystem) SetPIDGains(g PIDGains) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch g.Slot {
	case s.mpGains.Slot:
		s.mpGains = withName(g, s.mpGains.Name)
	case s.posGains.Slot:
		s.posGains = withName(g, s.posGains.Name)
	case s.velGains.Slot:
		s.velGains = withName(g, s.velGains.Name)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownSlot, g.Slot)
	}

	s.sink.Record(eventlog.EventTuningApplied, fmt.Sprintf("%s: gains slot %d", s.name, g.Slot))
	return s.pushGains()
}

// SetMotionConstraints replaces the motion constraints and pushes them.
// The current setpoint is not re-clamped until it is next written.
func (s *Subsystem) SetMotionConstraints(c MotionConstraints) error {
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.constraints = c
	s.sink.Record(eventlog.EventTuningApplied, s.name+": motion constraints")
	return s.pushConstraints()
}

// Gains returns the motion-profile, position and velocity gain sets.
func (s *Subsystem) Gains() [3]PIDGains {
	s.mu.Lock()
	defer s.mu.Unlock()
	return [3]PIDGains{s.mpGains, s.posGains, s.velGains}
}

// Constraints returns the current motion constraints.
func (s *Subsystem) Constraints() MotionConstraints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.constraints
}

func withName(g PIDGains, fallback string) PIDGains {
	if g.Name == "" {
		g.Name = fallback
	}
	return g
}

// --- Internals; callers hold s.mu ---

func (s *Subsystem) readInputs() error {
	pos, perr := s.backend.Position()
	if perr == nil {
		s.position = s.TicksToHomedUnits(pos)
	}
	vel, verr := s.backend.Velocity()
	if verr == nil {
		s.velocity = s.nativeToVelocity(vel)
	}
	return errors.Join(perr, verr)
}

func (s *Subsystem) writeOutputs() error {
	if s.slotPending {
		if err := s.backend.SelectProfileSlot(s.pendingSlot); err != nil {
			// Retry next tick; closed-loop commands on the wrong slot are worse
			// than one stale tick.
			return err
		}
		s.slotPending = false
	}

	switch s.mode {
	case MotionProfile:
		return s.backend.SetMotionProfile(int64(s.demand))
	case PositionPID:
		return s.backend.SetPosition(int64(s.demand))
	case VelocityPID:
		return s.backend.SetVelocity(int64(s.demand))
	default:
		return s.backend.SetOpenLoop(s.demand)
	}
}

func (s *Subsystem) pushGains() error {
	err := errors.Join(
		s.backend.ApplyPIDGains(s.mpGains),
		s.backend.ApplyPIDGains(s.posGains),
		s.backend.ApplyPIDGains(s.velGains),
	)
	s.updateHealth(err)
	return err
}

func (s *Subsystem) pushConstraints() error {
	err := s.backend.ApplyMotionConstraints(s.nativeConstraints())
	s.updateHealth(err)
	return err
}

func (s *Subsystem) nativeConstraints() NativeConstraints {
	c := s.constraints
	n := NativeConstraints{
		CruiseNative:  s.velocityToNative(c.CruiseVelocity),
		AccelNative:   s.velocityToNative(c.MaxAcceleration),
		CurveStrength: c.CurveStrength,
		Slot:          s.mpGains.Slot,
	}
	if !math.IsNaN(c.ReverseSoftLimit) {
		n.ReverseEnabled = true
		n.ReverseNative = s.HomedUnitsToTicks(c.ReverseSoftLimit)
	}
	if !math.IsNaN(c.ForwardSoftLimit) {
		n.ForwardEnabled = true
		n.ForwardNative = s.HomedUnitsToTicks(c.ForwardSoftLimit)
	}
	return n
}

// updateHealth records the transition into or out of backend failure.
func (s *Subsystem) updateHealth(err error) {
	if err != nil {
		s.failures++
		s.lastErr = err
		if s.healthy {
			s.healthy = false
			s.sink.Record(eventlog.EventBackendError, fmt.Sprintf("%s: %v", s.name, err))
			s.logger.Warn("subsystem backend failing", "subsystem", s.name, "error", err)
		}
		return
	}
	if !s.healthy {
		s.healthy = true
		s.sink.Record(eventlog.EventBackendRecovered, s.name)
		s.logger.Info("subsystem backend recovered", "subsystem", s.name)
	}
}

// --- Unit conversion ---

// UnitsToTicks converts a physical distance to native ticks, rounding to
// the nearest tick.
func (s *Subsystem) UnitsToTicks(u float64) int64 {
	return int64(math.Round(u * s.ticksPerUnit))
}

// TicksToUnits converts native ticks to a physical distance exactly.
func (s *Subsystem) TicksToUnits(t float64) float64 {
	return t / s.ticksPerUnit
}

// HomedUnitsToTicks converts a physical position to a native position.
func (s *Subsystem) HomedUnitsToTicks(x float64) int64 {
	return s.UnitsToTicks(x - s.home)
}

// TicksToHomedUnits converts a native position to a physical position.
func (s *Subsystem) TicksToHomedUnits(t float64) float64 {
	return s.TicksToUnits(t) + s.home
}

func (s *Subsystem) velocityToNative(v float64) int64 {
	return int64(math.Round(v * s.ticksPerUnit * s.timebase))
}

func (s *Subsystem) nativeToVelocity(n float64) float64 {
	return n / (s.ticksPerUnit * s.timebase)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clampSoftLimits(x, reverse, forward float64) float64 {
	if !math.IsNaN(reverse) && x < reverse {
		x = reverse
	}
	if !math.IsNaN(forward) && x > forward {
		x = forward
	}
	return x
}
