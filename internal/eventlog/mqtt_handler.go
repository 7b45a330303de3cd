package eventlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/robocore/internal/infrastructure/mqtt"
)

// Publisher sends a payload to an MQTT topic. *mqtt.Client satisfies it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTHandler publishes every event as JSON on robocore/event/{name}.
type MQTTHandler struct {
	client Publisher
	qos    byte
	topics mqtt.Topics
}

// NewMQTTHandler creates a handler publishing through client at qos.
func NewMQTTHandler(client Publisher, qos byte) *MQTTHandler {
	return &MQTTHandler{client: client, qos: qos}
}

// HandleEvent publishes e. Events are never retained.
func (h *MQTTHandler) HandleEvent(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.Name, err)
	}
	if err := h.client.Publish(h.topics.Event(e.Name), payload, h.qos, false); err != nil {
		return fmt.Errorf("publishing event %s: %w", e.Name, err)
	}
	return nil
}
