package proto

import (
	"encoding/json"
	"time"
)

// Message types pushed over /ws.
const (
	TypeConnected    = "connected"     // acknowledgement sent once per connection
	TypeAccessUpdate = "access-update" // a new access event was recorded
	TypeDeviceUpdate = "device-update" // a device or one of its alerts changed
)

// Cache keys served by the dashboard API. Clients cache responses under the
// request path, so these double as invalidation patterns.
const (
	KeyAccessLogs     = "/api/access-logs"
	KeyDashboardStats = "/api/dashboard/stats"
	KeyDevices        = "/api/devices"
	KeyAlerts         = "/api/alerts"
)

type Message struct {
	Type      string          `json:"type"`                // "connected", "access-update", "device-update"
	Payload   json.RawMessage `json:"payload,omitempty"`   // raw JSON; schema depends on Type
	Timestamp int64           `json:"timestamp,omitempty"` // UNIX timestamp in seconds
}

type ConnectedPayload struct {
	ClientId string `json:"client_id"`
}

// NewMessage marshals payload into a message of the given type. A nil payload
// leaves Payload empty.
func NewMessage(msgType string, payload any) (Message, error) {
	msg := Message{Type: msgType, Timestamp: time.Now().Unix()}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}
