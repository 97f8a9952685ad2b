package ws

import "time"

// Event types pushed to clients over the socket.
const (
	EventSyncStarted      = "sync.started"
	EventSyncCompleted    = "sync.completed"
	EventSyncFailed       = "sync.failed"
	EventConflictDetected = "conflict.detected"
	EventConflictResolved = "conflict.resolved"
)

// Event is the wire envelope for every broadcast message.
type Event struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
