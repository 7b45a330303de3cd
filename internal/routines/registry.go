package routines

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/robocore/internal/action"
	"github.com/nerrad567/robocore/internal/clock"
	"github.com/nerrad567/robocore/internal/eventlog"
	"github.com/nerrad567/robocore/internal/infrastructure/config"
)

// IdleRoutine is the name of the built-in routine that does nothing.
const IdleRoutine = "idle"

// Options apply to every routine the registry hands out.
type Options struct {
	StartDelay time.Duration
	Period     time.Duration
	Clock      clock.Clock
	Sink       eventlog.Sink
}

// Logger defines the logging interface used by the Registry.
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

// Summary describes a registered routine.
type Summary struct {
	Name    string `json:"name"`
	Steps   int    `json:"steps"`
	BuiltIn bool   `json:"built_in"`
}

// Registry holds named routine definitions.
//
// All public methods are thread-safe.
type Registry struct {
	targets map[string]Target
	opts    Options
	logger  Logger

	mu   sync.RWMutex
	defs map[string]config.RoutineConfig
}

// NewRegistry creates a registry containing only the idle routine.
func NewRegistry(targets map[string]Target, opts Options) *Registry {
	r := &Registry{
		targets: targets,
		opts:    opts,
		logger:  noopLogger{},
		defs:    make(map[string]config.RoutineConfig),
	}
	r.defs[IdleRoutine] = config.RoutineConfig{
		Name: IdleRoutine,
		Root: config.StepConfig{Type: StepSeries},
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Register validates and adds a routine definition.
func (r *Registry) Register(def config.RoutineConfig) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidStep)
	}
	if err := Validate(def.Root, r.targets); err != nil {
		return fmt.Errorf("routine %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("%w: %q", ErrRoutineExists, def.Name)
	}
	r.defs[def.Name] = def
	r.logger.Debug("routine registered", "routine", def.Name)
	return nil
}

// RegisterAll registers every definition, stopping at the first error.
func (r *Registry) RegisterAll(defs []config.RoutineConfig) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether a routine is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// List returns the registered routines sorted by name.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.defs))
	for name, def := range r.defs {
		out = append(out, Summary{
			Name:    name,
			Steps:   countSteps(def.Root),
			BuiltIn: name == IdleRoutine,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// New builds a fresh, unstarted routine. onDone, when non-nil, is called
// with its outcome.
func (r *Registry) New(name string, onDone func(action.Outcome)) (*action.Routine, error) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRoutineNotFound, name)
	}

	root, err := Build(def.Root, r.targets)
	if err != nil {
		return nil, fmt.Errorf("routine %q: %w", name, err)
	}

	return action.NewRoutine(action.RoutineConfig{
		Name:       name,
		Root:       root,
		StartDelay: r.opts.StartDelay,
		Period:     r.opts.Period,
		Clock:      r.opts.Clock,
		Sink:       r.opts.Sink,
		OnDone:     onDone,
	}), nil
}

func countSteps(step config.StepConfig) int {
	n := 1
	for _, child := range step.Steps {
		n += countSteps(child)
	}
	return n
}
