package mqttbridge

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/robocore/internal/infrastructure/mqtt"
)

// BusHealth follows the status topic of one bus. Every Bridge on the bus
// shares it, since the broker delivers a topic to one handler per client.
type BusHealth struct {
	client Client
	bus    string
	topic  string

	mu     sync.Mutex
	status HealthMessage
	known  bool
}

// WatchBus subscribes to the health topic of bus.
func WatchBus(client Client, bus string) (*BusHealth, error) {
	if bus == "" {
		return nil, fmt.Errorf("%w: bus is required", ErrInvalidConfig)
	}
	h := &BusHealth{
		client: client,
		bus:    bus,
		topic:  mqtt.Topics{}.BridgeHealth(bus),
	}
	// QoS 1: a lost offline notice would leave readings trusted.
	if err := client.Subscribe(h.topic, 1, h.handle); err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", h.topic, err)
	}
	return h, nil
}

func (h *BusHealth) handle(_ string, payload []byte) error {
	var msg HealthMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decoding health for %s: %w", h.bus, err)
	}
	h.mu.Lock()
	h.status = msg
	h.known = true
	h.mu.Unlock()
	return nil
}

// Err returns ErrBusOffline while the bus reports offline. A bus that has
// never reported is assumed up; stale readings catch a silent bridge.
func (h *BusHealth) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.known || h.status.Status != BusOffline {
		return nil
	}
	if h.status.Reason != "" {
		return fmt.Errorf("%w: %s: %s", ErrBusOffline, h.bus, h.status.Reason)
	}
	return fmt.Errorf("%w: %s", ErrBusOffline, h.bus)
}

// Close unsubscribes from the health topic.
func (h *BusHealth) Close() error {
	return h.client.Unsubscribe(h.topic)
}
