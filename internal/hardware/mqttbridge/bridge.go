package mqttbridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/robocore/internal/infrastructure/mqtt"
	"github.com/nerrad567/robocore/internal/subsystem"
)

// Defaults for a Bridge.
const (
	DefaultStaleAfter      = 500 * time.Millisecond
	DefaultRefreshInterval = 100 * time.Millisecond
	DefaultQueueSize       = 32
)

// Client is the subset of the MQTT client a Bridge needs.
// *mqtt.Client satisfies it.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Config identifies the motor behind the bridge.
type Config struct {
	Bus   string
	Motor string

	// StaleAfter bounds the age of the cached reading. Zero uses
	// DefaultStaleAfter; negative disables the check.
	StaleAfter time.Duration

	// RefreshInterval re-sends an unchanged output command after this
	// long. Zero uses DefaultRefreshInterval.
	RefreshInterval time.Duration

	// Health, when set, fails readings while the bus reports offline.
	Health *BusHealth

	// QueueSize bounds the commands waiting for the writer goroutine.
	// Zero uses DefaultQueueSize.
	QueueSize int

	// Now returns the wall time. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a snapshot of bridge traffic.
type Stats struct {
	CommandsSent       uint64 `json:"commands_sent"`
	CommandsSuppressed uint64 `json:"commands_suppressed"`
	CommandsDropped    uint64 `json:"commands_dropped"`
	PublishErrors      uint64 `json:"publish_errors"`
	StatesReceived     uint64 `json:"states_received"`
	DecodeErrors       uint64 `json:"decode_errors"`
	Pending            int    `json:"pending"`
}

// Bridge is a subsystem.Backend that talks to a motor controller via MQTT.
//
// Commands are queued and published by a writer goroutine, so a slow
// broker never blocks the scheduler tick that issued them. A publish
// failure is returned by the next command.
//
// Thread Safety:
//   - All methods are safe for concurrent use. State messages arrive on
//     the MQTT client's goroutines.
type Bridge struct {
	client       Client
	bus          string
	motor        string
	commandTopic string
	stateTopic   string
	staleAfter   time.Duration
	refresh      time.Duration
	health       *BusHealth
	now          func() time.Time

	mu         sync.Mutex
	state      StateMessage
	received   time.Time
	hasState   bool
	last       commandKey
	lastSentAt time.Time
	hasLast    bool
	pending    int
	publishErr error
	stats      Stats

	queue     chan outgoing
	closeOnce sync.Once
	done      chan struct{}
}

// outgoing is an encoded command waiting for the writer.
type outgoing struct {
	command string
	payload []byte
}

var _ subsystem.Backend = (*Bridge)(nil)

// New creates a bridge and subscribes to the motor's state topic.
func New(client Client, cfg Config) (*Bridge, error) {
	if cfg.Bus == "" || cfg.Motor == "" {
		return nil, fmt.Errorf("%w: bus and motor are required", ErrInvalidConfig)
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	topics := mqtt.Topics{}
	b := &Bridge{
		client:       client,
		bus:          cfg.Bus,
		motor:        cfg.Motor,
		commandTopic: topics.MotorCommand(cfg.Bus, cfg.Motor),
		stateTopic:   topics.MotorState(cfg.Bus, cfg.Motor),
		staleAfter:   cfg.StaleAfter,
		refresh:      cfg.RefreshInterval,
		health:       cfg.Health,
		now:          cfg.Now,
		queue:        make(chan outgoing, cfg.QueueSize),
		done:         make(chan struct{}),
	}

	if err := client.Subscribe(b.stateTopic, 0, b.handleState); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", b.stateTopic, err)
	}
	go b.write(b.queue)
	return b, nil
}

// Close unsubscribes from the state topic, then waits for queued commands
// (typically the neutral command sent when the loop stops) to be published.
// Commands issued after Close are dropped.
func (b *Bridge) Close() error {
	err := b.client.Unsubscribe(b.stateTopic)
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.queue)
		b.queue = nil
		b.mu.Unlock()
	})
	<-b.done
	return err
}

// Stats returns traffic counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stats
	st.Pending = b.pending
	return st
}

// handleState caches a reading published by the bridge.
func (b *Bridge) handleState(_ string, payload []byte) error {
	var msg StateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.mu.Lock()
		b.stats.DecodeErrors++
		b.mu.Unlock()
		return fmt.Errorf("decoding state for %s/%s: %w", b.bus, b.motor, err)
	}

	b.mu.Lock()
	b.state = msg
	b.received = b.now()
	b.hasState = true
	b.stats.StatesReceived++
	b.mu.Unlock()
	return nil
}

// reading returns the cached state if the bus is up and the state is
// present, fresh and fault-free.
func (b *Bridge) reading() (StateMessage, error) {
	if b.health != nil {
		if err := b.health.Err(); err != nil {
			return StateMessage{}, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.hasState {
		return StateMessage{}, ErrNoState
	}
	if b.staleAfter > 0 {
		if age := b.now().Sub(b.received); age > b.staleAfter {
			return StateMessage{}, fmt.Errorf("%w: last reading %v ago", ErrStaleState, age)
		}
	}
	if b.state.Fault != "" {
		return StateMessage{}, fmt.Errorf("%w: %s", ErrMotorFault, b.state.Fault)
	}
	return b.state, nil
}

// Position returns the last reported native position.
func (b *Bridge) Position() (float64, error) {
	s, err := b.reading()
	if err != nil {
		return 0, err
	}
	return s.Position, nil
}

// Velocity returns the last reported native velocity.
func (b *Bridge) Velocity() (float64, error) {
	s, err := b.reading()
	if err != nil {
		return 0, err
	}
	return s.Velocity, nil
}

// SetMotionProfile commands a profiled move to a native position.
func (b *Bridge) SetMotionProfile(native int64) error {
	return b.output(CommandMotionProfile, float64(native))
}

// SetPosition commands position PID to a native position.
func (b *Bridge) SetPosition(native int64) error {
	return b.output(CommandPosition, float64(native))
}

// SetVelocity commands velocity PID to a native velocity.
func (b *Bridge) SetVelocity(native int64) error {
	return b.output(CommandVelocity, float64(native))
}

// SetOpenLoop commands a raw power fraction.
func (b *Bridge) SetOpenLoop(power float64) error {
	return b.output(CommandOpenLoop, power)
}

// SelectProfileSlot selects the PID slot used by closed-loop commands.
func (b *Bridge) SelectProfileSlot(slot int) error {
	return b.send(CommandMessage{Command: CommandSelectSlot, Value: float64(slot)})
}

// ZeroSensors resets the controller's position to native zero.
func (b *Bridge) ZeroSensors() error {
	return b.send(CommandMessage{Command: CommandZero})
}

// ApplyPIDGains writes a gain set into its slot on the controller.
func (b *Bridge) ApplyPIDGains(g subsystem.PIDGains) error {
	return b.send(CommandMessage{Command: CommandPIDGains, Value: float64(g.Slot), Gains: &g})
}

// ApplyMotionConstraints writes native limits to the controller.
func (b *Bridge) ApplyMotionConstraints(c subsystem.NativeConstraints) error {
	return b.send(CommandMessage{Command: CommandConstraints, Constraints: &c})
}

// output queues an output command unless it repeats the last one within
// the refresh interval.
func (b *Bridge) output(command string, value float64) error {
	key := commandKey{command: command, value: value}
	now := b.now()

	b.mu.Lock()
	if b.hasLast && b.last == key && now.Sub(b.lastSentAt) < b.refresh {
		b.stats.CommandsSuppressed++
		b.mu.Unlock()
		return nil
	}
	b.last = key
	b.lastSentAt = now
	b.hasLast = true
	b.mu.Unlock()

	return b.send(CommandMessage{Command: command, Value: value})
}

// send encodes a command and queues it for the writer without blocking.
// It reports a full queue, or a publish failure of an earlier command.
// Configuration commands reset deduplication so the next output command
// always goes out.
func (b *Bridge) send(msg CommandMessage) error {
	msg.ID = uuid.NewString()
	msg.Timestamp = b.now().UTC()
	msg.Motor = b.motor

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s command: %w", msg.Command, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if !isOutput(msg.Command) {
		b.hasLast = false
	}
	if b.queue == nil {
		b.stats.CommandsDropped++
		return ErrClosed
	}

	select {
	case b.queue <- outgoing{command: msg.Command, payload: payload}:
		b.pending++
	default:
		b.stats.CommandsDropped++
		b.hasLast = false
		return fmt.Errorf("%w: %s to %s", ErrQueueFull, msg.Command, b.commandTopic)
	}

	if prev := b.publishErr; prev != nil {
		b.publishErr = nil
		return fmt.Errorf("publishing to %s: %w", b.commandTopic, prev)
	}
	return nil
}

// write publishes queued commands in order until Close.
func (b *Bridge) write(queue <-chan outgoing) {
	defer close(b.done)
	for out := range queue {
		err := b.client.Publish(b.commandTopic, out.payload, 0, false)

		b.mu.Lock()
		b.pending--
		if err != nil {
			b.stats.PublishErrors++
			b.hasLast = false
			b.publishErr = fmt.Errorf("%s: %w", out.command, err)
		} else {
			b.stats.CommandsSent++
		}
		b.mu.Unlock()
	}
}

func isOutput(command string) bool {
	switch command {
	case CommandMotionProfile, CommandPosition, CommandVelocity, CommandOpenLoop:
		return true
	}
	return false
}
