package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler decouples log emission from I/O: Handle enqueues the record
// and a small worker pool writes it through the inner handler. A full queue
// drops the record instead of blocking the sync path.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// asyncCore is the queue state shared by every WithAttrs/WithGroup
// derivative of one handler.
type asyncCore struct {
	queue   chan queued
	workers sync.WaitGroup
	dropped atomic.Int64
	onDrop  atomic.Value // func()
}

// queued pairs a record with the handler it was emitted on, so attributes
// and groups added via With survive the queue.
type queued struct {
	handler slog.Handler
	record  slog.Record
}

// NewAsyncHandler starts a pool of workers draining a queue of the given
// capacity into inner.
func NewAsyncHandler(inner slog.Handler, queueSize, workers int) *AsyncHandler {
	core := &asyncCore{queue: make(chan queued, queueSize)}
	for range workers {
		core.workers.Add(1)
		go core.run()
	}
	return &AsyncHandler{inner: inner, core: core}
}

func (c *asyncCore) run() {
	defer c.workers.Done()
	for q := range c.queue {
		_ = q.handler.Handle(context.Background(), q.record)
	}
}

// OnDrop registers fn to run once per dropped record, e.g. to feed a counter.
func (h *AsyncHandler) OnDrop(fn func()) {
	h.core.onDrop.Store(fn)
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record. Drops if the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.core.queue <- queued{handler: h.inner, record: rec}:
	default:
		h.core.dropped.Add(1)
		if fn, ok := h.core.onDrop.Load().(func()); ok && fn != nil {
			fn()
		}
	}
	return nil
}

// WithAttrs derives a handler sharing the same queue and workers.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup derives a handler sharing the same queue and workers.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount returns the number of records dropped so far.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops the workers once the queue drains, then reports any drops
// through the inner handler.
func (h *AsyncHandler) Close() {
	close(h.core.queue)
	h.core.workers.Wait()
	if n := h.core.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "async handler dropped log records", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}
