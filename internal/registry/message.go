package registry

import (
	"time"

	"github.com/Al3x2023/AlertaRaven4/internal/alert"
)

// Message is the envelope every payload pushed over a live connection
// travels in. Timestamp is Unix milliseconds.
type Message struct {
	Type      string `json:"type"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Message types pushed to clients.
const (
	TypeNewAlert        = "new_alert"
	TypeStatusChange    = "alert_status_change"
	TypeSystemStatus    = "system_status"
	TypeHeartbeat       = "heartbeat"
	TypeConnEstablished = "connection_established"
)

// NewAlertData is the payload of a new_alert message: the summary a
// dashboard needs to render the incoming alert immediately.
type NewAlertData struct {
	AlertID      string          `json:"alert_id"`
	DeviceID     string          `json:"device_id"`
	AccidentType string          `json:"accident_type"`
	Confidence   float64         `json:"confidence"`
	Timestamp    string          `json:"timestamp"`
	Location     *alert.Location `json:"location"`
}

// StatusChangeData is the payload of an alert_status_change message.
// DeviceID is null when the device is unknown, e.g. on pipeline failure
// or an operator override.
type StatusChangeData struct {
	AlertID   string  `json:"alert_id"`
	OldStatus string  `json:"old_status"`
	NewStatus string  `json:"new_status"`
	DeviceID  *string `json:"device_id"`
}

// SystemStatusData is the payload of a system_status message.
type SystemStatusData struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ConnEstablishedData acknowledges a successful registration to the new
// connection only.
type ConnEstablishedData struct {
	Message    string `json:"message"`
	ClientType string `json:"client_type"`
}

func newMessage(typ string, data any) *Message {
	return &Message{Type: typ, Data: data, Timestamp: time.Now().UnixMilli()}
}
