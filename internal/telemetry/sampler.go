package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/robocore/internal/infrastructure/influxdb"
	"github.com/nerrad567/robocore/internal/infrastructure/mqtt"
	"github.com/nerrad567/robocore/internal/scheduler"
	"github.com/nerrad567/robocore/internal/subsystem"
)

// Defaults for a Sampler.
const (
	DefaultEveryTicks = 10
	DefaultQueueSize  = 8
)

// Source is a mechanism that can be sampled. *subsystem.Subsystem
// satisfies it.
type Source interface {
	Snapshot() subsystem.Snapshot
}

// LoopSource reports scheduler statistics. It is read on the publisher
// goroutine, never from inside a tick. *scheduler.Scheduler satisfies it.
type LoopSource interface {
	Stats() scheduler.Stats
}

// Publisher sends telemetry over MQTT. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// PointWriter stores telemetry as time series. *influxdb.Client
// satisfies it.
type PointWriter interface {
	WriteSubsystemSample(robotID string, s influxdb.SubsystemSample, ts time.Time)
	WriteLoopSample(robotID string, l influxdb.LoopSample, ts time.Time)
}

// Logger defines the logging interface used by the sampler.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Config wires a Sampler to its sinks. MQTT and Influx are optional.
type Config struct {
	RobotID    string
	EveryTicks int
	QueueSize  int
	Loop       LoopSource
	MQTT       Publisher
	Influx     PointWriter
	Now        func() time.Time
}

// Frame is one sampling of every source.
type Frame struct {
	Timestamp  time.Time            `json:"timestamp"`
	Loop       *scheduler.Stats     `json:"loop,omitempty"`
	Subsystems []subsystem.Snapshot `json:"subsystems"`
}

// Stats reports sampler counters.
type Stats struct {
	Frames        uint64 `json:"frames"`
	Dropped       uint64 `json:"dropped"`
	Published     uint64 `json:"published"`
	PublishErrors uint64 `json:"publish_errors"`
}

// subsystemMessage is the MQTT payload for one subsystem.
type subsystemMessage struct {
	RobotID   string    `json:"robot_id"`
	Timestamp time.Time `json:"timestamp"`
	subsystem.Snapshot
}

// loopMessage is the MQTT payload for scheduler statistics.
type loopMessage struct {
	RobotID   string    `json:"robot_id"`
	Timestamp time.Time `json:"timestamp"`
	scheduler.Stats
}

// Sampler is a scheduler Behavior that snapshots its sources every N ticks
// and hands the frame to a publisher goroutine.
//
// Thread Safety:
//   - OnLoop never blocks; frames are dropped when the queue is full.
//   - Start and Close may be called from any goroutine.
type Sampler struct {
	robotID string
	every   int
	sources []Source
	loop    LoopSource
	mqtt    Publisher
	influx  PointWriter
	now     func() time.Time
	logger  Logger
	topics  mqtt.Topics

	queue chan Frame
	count int

	frames        atomic.Uint64
	dropped       atomic.Uint64
	published     atomic.Uint64
	publishErrors atomic.Uint64
	failing       atomic.Bool

	latestMu sync.RWMutex
	latest   Frame

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a sampler over sources.
func New(cfg Config, sources ...Source) *Sampler {
	if cfg.EveryTicks <= 0 {
		cfg.EveryTicks = DefaultEveryTicks
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Sampler{
		robotID: cfg.RobotID,
		every:   cfg.EveryTicks,
		sources: sources,
		loop:    cfg.Loop,
		mqtt:    cfg.MQTT,
		influx:  cfg.Influx,
		now:     cfg.Now,
		logger:  noopLogger{},
		queue:   make(chan Frame, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger used to report publish failures.
func (s *Sampler) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	s.logger = l
}

// Name identifies the sampler in scheduler fault reports.
func (s *Sampler) Name() string { return "telemetry" }

// OnStart restarts the tick count.
func (s *Sampler) OnStart(float64) { s.count = 0 }

// OnLoop samples every N ticks.
func (s *Sampler) OnLoop(float64, float64) {
	s.count++
	if s.count < s.every {
		return
	}
	s.count = 0

	frame := Frame{
		Timestamp:  s.now().UTC(),
		Subsystems: make([]subsystem.Snapshot, 0, len(s.sources)),
	}
	for _, src := range s.sources {
		frame.Subsystems = append(frame.Subsystems, src.Snapshot())
	}
	s.frames.Add(1)

	select {
	case s.queue <- frame:
	default:
		s.dropped.Add(1)
	}
}

// OnStop does nothing; queued frames are still published.
func (s *Sampler) OnStop(float64) {}

// Start launches the publisher goroutine. It returns immediately.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *Sampler) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case f := <-s.queue:
					s.publish(f)
				default:
					return
				}
			}
		case f := <-s.queue:
			s.publish(f)
		}
	}
}

// Close stops the publisher goroutine after publishing queued frames.
func (s *Sampler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if !started {
		return nil
	}
	cancel()
	<-s.done
	return nil
}

// Latest returns the most recently published frame.
func (s *Sampler) Latest() Frame {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.latest
}

// Stats returns sampler counters.
func (s *Sampler) Stats() Stats {
	return Stats{
		Frames:        s.frames.Load(),
		Dropped:       s.dropped.Load(),
		Published:     s.published.Load(),
		PublishErrors: s.publishErrors.Load(),
	}
}

func (s *Sampler) publish(f Frame) {
	if s.loop != nil {
		st := s.loop.Stats()
		f.Loop = &st
	}

	var firstErr error
	for _, snap := range f.Subsystems {
		if err := s.publishSubsystem(f.Timestamp, snap); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if f.Loop != nil {
		if err := s.publishLoop(f.Timestamp, *f.Loop); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.latestMu.Lock()
	s.latest = f
	s.latestMu.Unlock()

	if firstErr != nil {
		s.publishErrors.Add(1)
		if !s.failing.Swap(true) {
			s.logger.Warn("telemetry publish failing", "error", firstErr)
		}
		return
	}
	s.published.Add(1)
	if s.failing.Swap(false) {
		s.logger.Info("telemetry publish recovered")
	}
}

func (s *Sampler) publishSubsystem(ts time.Time, snap subsystem.Snapshot) error {
	if s.influx != nil {
		s.influx.WriteSubsystemSample(s.robotID, influxdb.SubsystemSample{
			Subsystem: snap.Name,
			Mode:      snap.Mode.String(),
			Setpoint:  snap.Setpoint,
			Position:  snap.Position,
			Velocity:  snap.Velocity,
			Healthy:   snap.Healthy,
			Failures:  snap.Failures,
		}, ts)
	}
	if s.mqtt == nil {
		return nil
	}

	payload, err := json.Marshal(subsystemMessage{RobotID: s.robotID, Timestamp: ts, Snapshot: snap})
	if err != nil {
		return fmt.Errorf("encoding %s telemetry: %w", snap.Name, err)
	}
	return s.mqtt.Publish(s.topics.Telemetry(snap.Name), payload, 0, false)
}

func (s *Sampler) publishLoop(ts time.Time, st scheduler.Stats) error {
	if s.influx != nil {
		s.influx.WriteLoopSample(s.robotID, influxdb.LoopSample{
			Behaviors: st.Behaviors,
			Ticks:     st.Ticks,
			Faults:    st.Faults,
			Overruns:  st.Overruns,
			LastDT:    st.LastDT,
			MaxDT:     st.MaxDT,
		}, ts)
	}
	if s.mqtt == nil {
		return nil
	}

	payload, err := json.Marshal(loopMessage{RobotID: s.robotID, Timestamp: ts, Stats: st})
	if err != nil {
		return fmt.Errorf("encoding loop telemetry: %w", err)
	}
	return s.mqtt.Publish(s.topics.SchedulerTelemetry(), payload, 0, false)
}
