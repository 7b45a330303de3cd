package mqtt

import (
	"encoding/json"
	"time"
)

// Values of StatusMessage.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Values of StatusMessage.Reason for an offline robot.
const (
	ReasonShutdown       = "shutdown"
	ReasonConnectionLost = "connection_lost"
)

// StatusMessage is the retained robot status on robocore/system/status.
// The connection_lost form is registered as the will, so its timestamp is
// the time of the connect rather than of the loss.
type StatusMessage struct {
	RobotID   string    `json:"robot_id"`
	ClientID  string    `json:"client_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Client) status(status, reason string) []byte {
	return encodeStatus(StatusMessage{
		RobotID:   c.robotID,
		ClientID:  c.clientID,
		Status:    status,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func encodeStatus(msg StatusMessage) []byte {
	payload, _ := json.Marshal(msg) //nolint:errcheck // strings and a time always encode
	return payload
}
