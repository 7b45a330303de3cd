package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/robocore/internal/infrastructure/config"
)

// Logger is the logging the client needs. *logging.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one message. Handlers run on paho's router
// goroutine, one at a time, and must not block. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is robocore's connection to the broker. It keeps the robot's
// retained status on robocore/system/status current and restores
// subscriptions after every reconnect.
//
// All methods are safe for concurrent use.
type Client struct {
	conn      pahomqtt.Client
	robotID   string
	clientID  string
	connected atomic.Bool

	mu     sync.RWMutex
	subs   map[string]subscription
	logger Logger
}

// Connect dials the broker and waits up to connectTimeout for it to accept.
// The robot is announced online once connected; if it drops off without
// Close, the broker announces it offline with reason connection_lost.
func Connect(cfg config.MQTTConfig, robotID string) (*Client, error) {
	c := &Client{
		robotID:  robotID,
		clientID: cfg.Broker.ClientID,
		subs:     make(map[string]subscription),
		logger:   noopLogger{},
	}

	will := StatusMessage{
		RobotID:   robotID,
		ClientID:  cfg.Broker.ClientID,
		Status:    StatusOffline,
		Reason:    ReasonConnectionLost,
		Timestamp: time.Now().UTC(),
	}
	opts := buildOptions(cfg, will)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })

	c.conn = pahomqtt.NewClient(opts)
	tok := c.conn.Connect()
	if !tok.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: %s did not answer within %v", ErrConnectionFailed, brokerURL(cfg), connectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}
	// The connect handler runs asynchronously; mark the client usable now.
	c.connected.Store(true)
	return c, nil
}

// SetLogger sets the logger for connection changes and handler failures.
// Nil discards.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// onConnect runs after the initial connect and after every reconnect.
func (c *Client) onConnect() {
	c.connected.Store(true)

	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.RUnlock()

	for topic, sub := range subs {
		if err := await(c.conn.Subscribe(topic, sub.qos, c.dispatch(sub.handler)), ErrSubscribeFailed, topic); err != nil {
			c.log().Error("MQTT subscription not restored", "topic", topic, "error", err)
		}
	}
	c.conn.Publish(Topics{}.SystemStatus(), statusQoS, true, c.status(StatusOnline, ""))
	c.log().Info("MQTT connected", "subscriptions", len(subs))
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	c.log().Warn("MQTT connection lost", "error", err)
}

// Close announces a clean shutdown and disconnects.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.IsConnected() {
		tok := c.conn.Publish(Topics{}.SystemStatus(), statusQoS, true, c.status(StatusOffline, ReasonShutdown))
		if err := await(tok, ErrPublishFailed, Topics{}.SystemStatus()); err != nil {
			c.log().Warn("MQTT shutdown status not sent", "error", err)
		}
	}
	c.conn.Disconnect(quiesceMillis)
	c.connected.Store(false)
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.connected.Load() && c.conn.IsConnected()
}

// HealthCheck returns ErrNotConnected while the connection is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
