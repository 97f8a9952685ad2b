// Package messagequeue defines the port interface for the event/audit sink.
package messagequeue

import "context"

// Subjects published by the sync engine. Downstream collaborators (alerting,
// audit trail) subscribe to these; the engine itself performs no direct
// notification.
const (
	SubjectSyncCompleted    = "sync.run.completed"
	SubjectSyncFailed       = "sync.run.failed"
	SubjectConflictDetected = "sync.conflict.detected"
	SubjectConflictResolved = "sync.conflict.resolved"
)

// Queue is the port interface for publishing audit events.
type Queue interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}
