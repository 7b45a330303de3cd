package mqtt

import "errors"

var (
	// ErrNotConnected is returned while the broker connection is down.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed is returned by Connect when the broker does not
	// accept the connection in time.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when the broker rejects or does not
	// acknowledge a QoS 1 or 2 publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe or unsubscribe is not
	// acknowledged.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidArgument is returned for an empty topic, a QoS above 2, a
	// nil handler or an oversized payload.
	ErrInvalidArgument = errors.New("mqtt: invalid argument")
)
