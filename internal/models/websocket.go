package models

import "github.com/google/uuid"

// Event types carried in WSMessage envelopes, both over websocket and on the
// Redis intake channels.
const (
	EventNotificationNew  = "notification.new"
	EventNotificationRead = "notification.read"
	EventFlagCreated      = "flag.created"
	EventSignalDetected   = "signal.detected"
	EventError            = "error"
)

type WSMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type WSNotificationReadPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

type WSErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
