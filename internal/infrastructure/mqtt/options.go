package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/robocore/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second

	// ackTimeout bounds the wait for a QoS 1/2 publish, subscribe or
	// unsubscribe acknowledgement.
	ackTimeout = 5 * time.Second

	// quiesceMillis is how long Disconnect lets in-flight work drain.
	quiesceMillis = 250

	// keepAlive lets the broker fire the will within a few seconds of the
	// robot losing power.
	keepAlive = 10 * time.Second

	// statusQoS is used for the retained robot status and its will.
	statusQoS = 1
)

// brokerURL returns the broker address in paho's scheme://host:port form.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildOptions translates the mqtt section of config.yaml into paho
// options. The session is clean: subscriptions are restored by the Client
// on every connect.
func buildOptions(cfg config.MQTTConfig, will StatusMessage) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetBinaryWill(Topics{}.SystemStatus(), encodeStatus(will), statusQoS, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}
