package tuning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/robocore/internal/infrastructure/mqtt"
	"github.com/nerrad567/robocore/internal/subsystem"
)

// historyTimeout bounds a history write made from an MQTT callback.
const historyTimeout = 5 * time.Second

// Target is a subsystem that accepts live tuning. *subsystem.Subsystem
// satisfies it.
type Target interface {
	SetPIDGains(g subsystem.PIDGains) error
	SetMotionConstraints(c subsystem.MotionConstraints) error
}

// Subscriber is the MQTT surface the service needs. *mqtt.Client
// satisfies it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Logger defines the logging interface used by the service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Service applies tuning changes to named subsystems.
type Service struct {
	targets map[string]Target
	history History
	logger  Logger
	topics  mqtt.Topics

	mu         sync.Mutex
	subscriber Subscriber
	subscribed []string
}

// NewService creates a service over targets. history may be nil.
func NewService(targets map[string]Target, history History) *Service {
	return &Service{
		targets: targets,
		history: history,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger used for applied and rejected changes.
func (s *Service) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	s.logger = l
}

// ApplyGains decodes a gain set and applies it to the named subsystem.
func (s *Service) ApplyGains(ctx context.Context, name, source string, payload []byte) (subsystem.PIDGains, error) {
	var g subsystem.PIDGains
	target, err := s.target(name)
	if err != nil {
		return g, err
	}
	if err := decodeStrict(payload, &g); err != nil {
		return g, err
	}
	if err := target.SetPIDGains(g); err != nil {
		return g, fmt.Errorf("applying %s gains: %w", name, err)
	}

	s.record(ctx, name, KindGains, source, g)
	s.logger.Info("gains applied", "subsystem", name, "slot", g.Slot, "source", source)
	return g, nil
}

// ApplyConstraints decodes motion constraints and applies them to the
// named subsystem.
func (s *Service) ApplyConstraints(ctx context.Context, name, source string, payload []byte) (subsystem.MotionConstraints, error) {
	c := subsystem.Unconstrained()
	target, err := s.target(name)
	if err != nil {
		return c, err
	}
	if err := decodeStrict(payload, &c); err != nil {
		return c, err
	}
	if err := target.SetMotionConstraints(c); err != nil {
		return c, fmt.Errorf("applying %s constraints: %w", name, err)
	}

	s.record(ctx, name, KindConstraints, source, c)
	s.logger.Info("constraints applied", "subsystem", name, "source", source)
	return c, nil
}

// History returns accepted changes for name, newest first.
func (s *Service) History(ctx context.Context, name string, limit int) ([]Change, error) {
	if s.history == nil {
		return []Change{}, nil
	}
	return s.history.List(ctx, name, limit)
}

// Subscribe listens for gains and constraints on every target's tuning
// topics.
func (s *Service) Subscribe(client Subscriber, qos byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriber = client
	for _, name := range s.names() {
		gains := s.topics.TuningGains(name)
		if err := client.Subscribe(gains, qos, func(_ string, payload []byte) error {
			return s.handle(KindGains, name, payload)
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", gains, err)
		}
		s.subscribed = append(s.subscribed, gains)

		constraints := s.topics.TuningConstraints(name)
		if err := client.Subscribe(constraints, qos, func(_ string, payload []byte) error {
			return s.handle(KindConstraints, name, payload)
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", constraints, err)
		}
		s.subscribed = append(s.subscribed, constraints)
	}
	return nil
}

// Close removes every subscription made by Subscribe.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, topic := range s.subscribed {
		if err := s.subscriber.Unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	s.subscribed = nil
	return errors.Join(errs...)
}

func (s *Service) handle(kind, name string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()

	var err error
	switch kind {
	case KindGains:
		_, err = s.ApplyGains(ctx, name, SourceMQTT, payload)
	default:
		_, err = s.ApplyConstraints(ctx, name, SourceMQTT, payload)
	}
	if err != nil {
		s.logger.Warn("tuning change rejected", "subsystem", name, "kind", kind, "error", err)
	}
	return err
}

func (s *Service) target(name string) (Target, error) {
	t, ok := s.targets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubsystem, name)
	}
	return t, nil
}

func (s *Service) names() []string {
	names := make([]string, 0, len(s.targets))
	for n := range s.targets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *Service) record(ctx context.Context, name, kind, source string, v any) {
	if s.history == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("encoding tuning change", "subsystem", name, "error", err)
		return
	}
	c := &Change{Subsystem: name, Kind: kind, Payload: payload, Source: source}
	if err := s.history.Create(ctx, c); err != nil {
		s.logger.Warn("recording tuning change", "subsystem", name, "error", err)
	}
}

func decodeStrict(payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
