package service

import (
	"context"
	"fmt"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
	"github.com/magnus-suite/magnus-sync/internal/resilience"
)

// boundAdapter is one connection's adapter plus its circuit breaker. Cached
// per connection and rebuilt when the connection's version changes.
type boundAdapter struct {
	adapter pmtool.Adapter
	breaker *resilience.Breaker
	version int
}

// adapterFor returns the cached adapter for the connection, constructing one
// when absent or stale. Construction errors (unknown tool, missing
// credentials) are fatal to the invocation.
func (e *Engine) adapterFor(conn *connection.Connection) (*boundAdapter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ba, ok := e.adapters[conn.ID]; ok && ba.version == conn.Version {
		return ba, nil
	}

	adapter, err := pmtool.New(conn)
	if err != nil {
		return nil, fmt.Errorf("construct %s adapter: %w", conn.ToolName, err)
	}
	breaker := resilience.NewBreaker(e.breakerCfg.MaxFailures, e.breakerCfg.Timeout)
	connID, tool := conn.ID, conn.ToolName
	breaker.OnStateChange(func(from, to string) {
		e.logger.Warn("adapter circuit state changed",
			"connection_id", connID,
			"tool", tool,
			"from", from,
			"to", to,
		)
	})
	ba := &boundAdapter{
		adapter: adapter,
		breaker: breaker,
		version: conn.Version,
	}
	e.adapters[conn.ID] = ba
	return ba, nil
}

// InvalidateAdapter drops the cached adapter for a connection, forcing
// reconstruction on next use. Called when the connection is updated or
// deleted.
func (e *Engine) InvalidateAdapter(connectionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.adapters, connectionID)
}

// TestConnection probes the connection's tool with a cheap liveness call.
// Adapter construction errors (unknown tool, missing credentials) propagate;
// ordinary auth failure is a plain false.
func (e *Engine) TestConnection(ctx context.Context, connectionID string) (bool, error) {
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return false, err
	}
	ba, err := e.adapterFor(conn)
	if err != nil {
		return false, err
	}
	callCtx, cancel := context.WithTimeout(ctx, e.syncCfg.CallTimeout)
	defer cancel()
	return ba.adapter.TestConnection(callCtx), nil
}

// call runs one outbound adapter operation under the per-call timeout and the
// connection's circuit breaker, recording latency. Failures come back as
// domain.CallError: per-entity, non-fatal.
func (e *Engine) call(ctx context.Context, ba *boundAdapter, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.syncCfg.CallTimeout)
	defer cancel()

	start := time.Now()
	err := ba.breaker.Execute(func() error {
		return fn(callCtx)
	})
	if e.metrics != nil {
		e.metrics.RecordAdapterCall(ctx, ba.adapter.Name(), op, time.Since(start))
	}
	if err != nil {
		return &domain.CallError{Tool: ba.adapter.Name(), Op: op, Err: err}
	}
	return nil
}
