// Package broadcast defines the port interface for pushing live events to
// connected clients.
package broadcast

import "context"

// Broadcaster fans an event out to every connected client. Implementations
// must never block the caller on a slow client.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
