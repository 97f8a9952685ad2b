// Package otel holds the engine's OpenTelemetry instruments. Providers are
// taken from the global registry, so the binary stays exporter-agnostic; a
// deployment wires its own SDK.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scope = "github.com/magnus-suite/magnus-sync"

// Metrics bundles the engine's instruments.
type Metrics struct {
	syncRuns          metric.Int64Counter
	entitiesSynced    metric.Int64Counter
	conflictsDetected metric.Int64Counter
	conflictsResolved metric.Int64Counter
	adapterCallTime   metric.Float64Histogram
	logsDropped       metric.Int64Counter
}

// NewMetrics registers the engine's instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(scope)

	syncRuns, err := meter.Int64Counter("magnus_sync.runs",
		metric.WithDescription("Completed sync runs by connection tool and terminal status"))
	if err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}
	entitiesSynced, err := meter.Int64Counter("magnus_sync.entities_synced",
		metric.WithDescription("Entities pulled or pushed, by direction"))
	if err != nil {
		return nil, fmt.Errorf("create entities counter: %w", err)
	}
	conflictsDetected, err := meter.Int64Counter("magnus_sync.conflicts_detected",
		metric.WithDescription("Conflicts persisted for operator review"))
	if err != nil {
		return nil, fmt.Errorf("create conflicts detected counter: %w", err)
	}
	conflictsResolved, err := meter.Int64Counter("magnus_sync.conflicts_resolved",
		metric.WithDescription("Conflicts resolved, by strategy"))
	if err != nil {
		return nil, fmt.Errorf("create conflicts resolved counter: %w", err)
	}
	adapterCallTime, err := meter.Float64Histogram("magnus_sync.adapter_call_seconds",
		metric.WithDescription("Outbound adapter call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create adapter call histogram: %w", err)
	}

	logsDropped, err := meter.Int64Counter("magnus_sync.logs_dropped",
		metric.WithDescription("Log records dropped by the async handler under backpressure"))
	if err != nil {
		return nil, fmt.Errorf("create logs dropped counter: %w", err)
	}

	return &Metrics{
		syncRuns:          syncRuns,
		entitiesSynced:    entitiesSynced,
		conflictsDetected: conflictsDetected,
		conflictsResolved: conflictsResolved,
		adapterCallTime:   adapterCallTime,
		logsDropped:       logsDropped,
	}, nil
}

// RecordSyncRun counts one finished sync invocation.
func (m *Metrics) RecordSyncRun(ctx context.Context, tool, status string) {
	m.syncRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}

// RecordEntitiesSynced counts entities moved in one direction of a pass.
func (m *Metrics) RecordEntitiesSynced(ctx context.Context, tool, direction string, n int) {
	if n == 0 {
		return
	}
	m.entitiesSynced.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("direction", direction),
	))
}

// RecordConflictDetected counts one persisted conflict.
func (m *Metrics) RecordConflictDetected(ctx context.Context, tool string) {
	m.conflictsDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordConflictResolved counts one resolved conflict.
func (m *Metrics) RecordConflictResolved(ctx context.Context, resolution string) {
	m.conflictsResolved.Add(ctx, 1, metric.WithAttributes(attribute.String("resolution", resolution)))
}

// RecordLogDropped counts one log record dropped by the async handler.
func (m *Metrics) RecordLogDropped(ctx context.Context) {
	m.logsDropped.Add(ctx, 1)
}

// RecordAdapterCall records the latency of one outbound adapter call.
func (m *Metrics) RecordAdapterCall(ctx context.Context, tool, op string, d time.Duration) {
	m.adapterCallTime.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("op", op),
	))
}
