// Package nats implements the messagequeue.Queue port on NATS JetStream.
// Events are fire-and-forget from the engine's perspective; JetStream
// retention gives downstream consumers a replayable audit trail.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/magnus-suite/magnus-sync/internal/port/messagequeue"
)

const (
	streamName     = "MAGNUS_SYNC"
	streamSubjects = "sync.>"
)

// Queue publishes audit events to a JetStream stream.
type Queue struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

var _ messagequeue.Queue = (*Queue)(nil)

// New connects to NATS and ensures the sync event stream exists.
func New(ctx context.Context, url string) (*Queue, error) {
	conn, err := nats.Connect(url,
		nats.Name("magnus-sync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{streamSubjects},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	return &Queue{conn: conn, js: js}, nil
}

// Publish writes one event to the stream.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := q.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection, flushing pending publishes.
func (q *Queue) Close() error {
	return q.conn.Drain()
}
