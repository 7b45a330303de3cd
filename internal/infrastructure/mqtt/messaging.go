package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayload caps a single message. The largest robocore payload is a
// telemetry frame of a few hundred bytes.
const maxPayload = 256 << 10

// Publish sends payload to topic. At QoS 0 it returns as soon as paho has
// taken the message and never waits on the broker, so motor commands and
// telemetry cost no round trip. At QoS 1 and 2 it waits up to ackTimeout.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d-byte payload for %s exceeds %d", ErrInvalidArgument, len(payload), topic, maxPayload)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	tok := c.conn.Publish(topic, qos, retained, payload)
	if qos > 0 {
		return await(tok, ErrPublishFailed, topic)
	}
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
		}
	default:
	}
	return nil
}

// Subscribe routes messages matching topic (wildcards allowed) to handler.
// The subscription is remembered and restored after a reconnect. A second
// Subscribe to the same topic replaces the handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrInvalidArgument, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Recorded first so a reconnect racing with the SUBACK restores it.
	c.mu.Lock()
	prev, had := c.subs[topic]
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(c.conn.Subscribe(topic, qos, c.dispatch(handler)), ErrSubscribeFailed, topic); err != nil {
		c.mu.Lock()
		if had {
			c.subs[topic] = prev
		} else {
			delete(c.subs, topic)
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe stops delivery for topic. While disconnected the clean
// session already dropped it at the broker, so only the record is removed.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidArgument)
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return await(c.conn.Unsubscribe(topic), ErrSubscribeFailed, topic)
}

// dispatch adapts a MessageHandler to paho, logging errors and recovering
// panics so one bad payload cannot stop the router goroutine.
func (c *Client) dispatch(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log().Error("MQTT handler panicked", "topic", msg.Topic(), "panic", r)
			}
		}()
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log().Warn("MQTT message rejected", "topic", msg.Topic(), "error", err)
		}
	}
}

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic", ErrInvalidArgument)
	}
	if qos > 2 {
		return fmt.Errorf("%w: QoS %d for %s", ErrInvalidArgument, qos, topic)
	}
	return nil
}

// await waits up to ackTimeout for tok and wraps a failure in sentinel.
func await(tok pahomqtt.Token, sentinel error, topic string) error {
	if !tok.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: %s: no acknowledgement within %v", sentinel, topic, ackTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", sentinel, topic, err)
	}
	return nil
}
