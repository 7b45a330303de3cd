package routines

import (
	"fmt"
	"math"

	"github.com/nerrad567/robocore/internal/action"
	"github.com/nerrad567/robocore/internal/clock"
	"github.com/nerrad567/robocore/internal/infrastructure/config"
	"github.com/nerrad567/robocore/internal/subsystem"
)

// Step types.
const (
	StepSeries   = "series"
	StepParallel = "parallel"
	StepRace     = "race"
	StepWait     = "wait"
	StepTimeout  = "timeout"
	StepSetpoint = "setpoint"
)

// Validation limits.
const (
	maxDepth       = 16
	maxSteps       = 500
	maxStepSeconds = 600.0
)

// Target is the part of a subsystem a setpoint step drives.
// *subsystem.Subsystem satisfies it.
type Target interface {
	Set(mode subsystem.ControlMode, value float64)
	AtSetpoint(tolerance float64) bool
}

// Build turns a step tree into an action tree bound to targets.
func Build(step config.StepConfig, targets map[string]Target) (action.Action, error) {
	b := builder{targets: targets}
	return b.build(step, "root", 0)
}

// Validate checks a step tree without building it.
func Validate(step config.StepConfig, targets map[string]Target) error {
	_, err := Build(step, targets)
	return err
}

type builder struct {
	targets map[string]Target
	count   int
}

func (b *builder) build(step config.StepConfig, path string, depth int) (action.Action, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: %s nests deeper than %d", ErrInvalidStep, path, maxDepth)
	}
	b.count++
	if b.count > maxSteps {
		return nil, fmt.Errorf("%w: more than %d steps", ErrInvalidStep, maxSteps)
	}

	switch step.Type {
	case StepSeries, StepParallel, StepRace:
		return b.composite(step, path, depth)

	case StepWait:
		if err := checkSeconds(step.Seconds, path, true); err != nil {
			return nil, err
		}
		return action.NewWait(clock.Seconds(step.Seconds)), nil

	case StepTimeout:
		if err := checkSeconds(step.Seconds, path, false); err != nil {
			return nil, err
		}
		if len(step.Steps) != 1 {
			return nil, fmt.Errorf("%w: %s: timeout wraps exactly one step, got %d", ErrInvalidStep, path, len(step.Steps))
		}
		inner, err := b.build(step.Steps[0], path+".steps[0]", depth+1)
		if err != nil {
			return nil, err
		}
		return action.Timeout(inner, clock.Seconds(step.Seconds)), nil

	case StepSetpoint:
		return b.setpoint(step, path)

	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidStep, path, step.Type)
	}
}

func (b *builder) composite(step config.StepConfig, path string, depth int) (action.Action, error) {
	if step.Type == StepRace && len(step.Steps) == 0 {
		return nil, fmt.Errorf("%w: %s: race needs at least one step", ErrInvalidStep, path)
	}

	children := make([]action.Action, 0, len(step.Steps))
	for i, child := range step.Steps {
		a, err := b.build(child, fmt.Sprintf("%s.steps[%d]", path, i), depth+1)
		if err != nil {
			return nil, err
		}
		children = append(children, a)
	}

	switch step.Type {
	case StepParallel:
		return action.NewParallel(children...), nil
	case StepRace:
		return action.NewRace(children...), nil
	default:
		return action.NewSeries(children...), nil
	}
}

func (b *builder) setpoint(step config.StepConfig, path string) (action.Action, error) {
	target, ok := b.targets[step.Subsystem]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %q", ErrUnknownSubsystem, path, step.Subsystem)
	}
	mode, err := subsystem.ParseControlMode(step.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidStep, path, err)
	}
	if step.Tolerance < 0 {
		return nil, fmt.Errorf("%w: %s: tolerance must not be negative", ErrInvalidStep, path)
	}

	value := step.Value
	command := action.NewRunOnce(func() { target.Set(mode, value) })
	if step.Tolerance == 0 {
		return command, nil
	}

	tolerance := step.Tolerance
	arrived := action.NewWaitUntil(func(float64) bool { return target.AtSetpoint(tolerance) })
	return action.NewSeries(command, arrived), nil
}

func checkSeconds(s float64, path string, allowZero bool) error {
	if s < 0 || s > maxStepSeconds || (!allowZero && s == 0) || math.IsNaN(s) {
		return fmt.Errorf("%w: %s: seconds %v out of range", ErrInvalidStep, path, s)
	}
	return nil
}
