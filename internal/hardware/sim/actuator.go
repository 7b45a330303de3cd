package sim

import (
	"math"
	"sync"
	"time"

	"github.com/nerrad567/robocore/internal/clock"
	"github.com/nerrad567/robocore/internal/subsystem"
)

// Defaults for a simulated actuator.
const (
	DefaultFreeSpeed    = 20000.0 // ticks/s at full power
	DefaultTimeConstant = 50 * time.Millisecond
)

type mode int

const (
	modeOpenLoop mode = iota
	modeVelocity
	modePosition
	modeMotionProfile
)

// Config tunes a simulated actuator.
type Config struct {
	// FreeSpeed is the native speed, in ticks/s, at full open-loop power.
	FreeSpeed float64

	// TimeConstant is the first-order response time of velocity and
	// position control.
	TimeConstant time.Duration

	// VelocityTimebase matches the subsystem's native velocity window.
	VelocityTimebase float64

	// Clock drives the physics. When nil, only Step advances time.
	Clock clock.Clock
}

// Actuator is a simulated motor controller with an encoder.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Actuator struct {
	freeSpeed float64
	tau       float64
	timebase  float64
	clock     clock.Clock

	mu          sync.Mutex
	lastTS      float64
	pos         float64 // ticks
	vel         float64 // ticks/s
	mode        mode
	target      float64 // power, ticks/s, or ticks depending on mode
	slot        int
	gains       map[int]subsystem.PIDGains
	constraints subsystem.NativeConstraints
	zeroCount   int
	commands    uint64
	fault       error
}

// New creates a simulated actuator at rest at native zero.
func New(cfg Config) *Actuator {
	if cfg.FreeSpeed <= 0 {
		cfg.FreeSpeed = DefaultFreeSpeed
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = DefaultTimeConstant
	}
	if cfg.VelocityTimebase <= 0 {
		cfg.VelocityTimebase = subsystem.DefaultVelocityTimebase
	}

	a := &Actuator{
		freeSpeed: cfg.FreeSpeed,
		tau:       cfg.TimeConstant.Seconds(),
		timebase:  cfg.VelocityTimebase,
		clock:     cfg.Clock,
		gains:     make(map[int]subsystem.PIDGains),
	}
	if a.clock != nil {
		a.lastTS = a.clock.Now()
	}
	return a
}

// SetFault makes every subsequent call fail with err until cleared with nil.
func (a *Actuator) SetFault(err error) {
	a.mu.Lock()
	a.fault = err
	a.mu.Unlock()
}

// Step advances the physics by dt seconds.
func (a *Actuator) Step(dt float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.step(dt)
}

// SetPositionTicks teleports the encoder, for test setup.
func (a *Actuator) SetPositionTicks(ticks float64) {
	a.mu.Lock()
	a.pos = ticks
	a.vel = 0
	a.mu.Unlock()
}

func (a *Actuator) SetMotionProfile(native int64) error {
	return a.command(modeMotionProfile, float64(native))
}

func (a *Actuator) SetPosition(native int64) error {
	return a.command(modePosition, float64(native))
}

func (a *Actuator) SetVelocity(native int64) error {
	return a.command(modeVelocity, float64(native)/a.timebase)
}

func (a *Actuator) SetOpenLoop(power float64) error {
	return a.command(modeOpenLoop, math.Max(-1, math.Min(1, power)))
}

func (a *Actuator) SelectProfileSlot(slot int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != nil {
		return a.fault
	}
	a.slot = slot
	return nil
}

func (a *Actuator) ZeroSensors() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != nil {
		return a.fault
	}
	a.advance()
	a.pos = 0
	a.zeroCount++
	return nil
}

func (a *Actuator) ApplyPIDGains(g subsystem.PIDGains) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != nil {
		return a.fault
	}
	a.gains[g.Slot] = g
	return nil
}

func (a *Actuator) ApplyMotionConstraints(c subsystem.NativeConstraints) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != nil {
		return a.fault
	}
	a.constraints = c
	return nil
}

// Position returns the encoder position in ticks.
func (a *Actuator) Position() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != nil {
		return 0, a.fault
	}
	a.advance()
	return math.Round(a.pos), nil
}

// Velocity returns the encoder velocity in ticks per timebase.
func (a *Actuator) Velocity() (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != nil {
		return 0, a.fault
	}
	a.advance()
	return math.Round(a.vel * a.timebase), nil
}

// State is a debug view of the actuator.
type State struct {
	PositionTicks float64 `json:"position_ticks"`
	VelocityTicks float64 `json:"velocity_ticks_per_s"`
	Slot          int     `json:"slot"`
	ZeroCount     int     `json:"zero_count"`
	Commands      uint64  `json:"commands"`
}

// State returns a debug snapshot.
func (a *Actuator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		PositionTicks: a.pos,
		VelocityTicks: a.vel,
		Slot:          a.slot,
		ZeroCount:     a.zeroCount,
		Commands:      a.commands,
	}
}

// Gains returns the gain set last applied to slot.
func (a *Actuator) Gains(slot int) (subsystem.PIDGains, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.gains[slot]
	return g, ok
}

func (a *Actuator) command(m mode, target float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fault != nil {
		return a.fault
	}
	a.advance()
	a.mode = m
	a.target = target
	a.commands++
	return nil
}

// advance integrates up to the clock's now. Callers hold a.mu.
func (a *Actuator) advance() {
	if a.clock == nil {
		return
	}
	now := a.clock.Now()
	if dt := now - a.lastTS; dt > 0 {
		a.step(dt)
	}
	a.lastTS = now
}

// step integrates dt seconds. Callers hold a.mu.
func (a *Actuator) step(dt float64) {
	if dt <= 0 {
		return
	}
	alpha := 1 - math.Exp(-dt/a.tau)

	switch a.mode {
	case modeOpenLoop:
		a.vel += (a.target*a.freeSpeed - a.vel) * alpha
		a.pos += a.vel * dt
	case modeVelocity:
		a.vel += (a.target - a.vel) * alpha
		a.pos += a.vel * dt
	case modePosition:
		next := a.pos + (a.target-a.pos)*alpha
		a.vel = (next - a.pos) / dt
		a.pos = next
	case modeMotionProfile:
		p := trapezoid{
			accel:  float64(a.constraints.AccelNative) / a.timebase,
			cruise: float64(a.constraints.CruiseNative) / a.timebase,
		}
		if p.accel <= 0 || p.cruise <= 0 {
			next := a.pos + (a.target-a.pos)*alpha
			a.vel = (next - a.pos) / dt
			a.pos = next
			break
		}
		a.pos, a.vel = p.step(a.pos, a.vel, a.target, dt)
	}

	a.applySoftLimits()
}

func (a *Actuator) applySoftLimits() {
	c := a.constraints
	if c.ReverseEnabled && a.pos < float64(c.ReverseNative) {
		a.pos = float64(c.ReverseNative)
		a.vel = math.Max(0, a.vel)
	}
	if c.ForwardEnabled && a.pos > float64(c.ForwardNative) {
		a.pos = float64(c.ForwardNative)
		a.vel = math.Min(0, a.vel)
	}
}
