// Package service implements the sync orchestrator: bulk pull/push passes,
// targeted single-task sync with conflict detection, conflict resolution, and
// the status aggregate.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/magnus-suite/magnus-sync/internal/adapter/otel"
	"github.com/magnus-suite/magnus-sync/internal/adapter/ws"
	"github.com/magnus-suite/magnus-sync/internal/config"
	"github.com/magnus-suite/magnus-sync/internal/port/broadcast"
	"github.com/magnus-suite/magnus-sync/internal/port/cache"
	"github.com/magnus-suite/magnus-sync/internal/port/database"
	"github.com/magnus-suite/magnus-sync/internal/port/messagequeue"
)

// Deps are the engine's collaborators. Queue, Broadcaster, Cache, and Metrics
// are optional; a nil value disables that concern.
type Deps struct {
	Store       database.Store
	Queue       messagequeue.Queue
	Broadcaster broadcast.Broadcaster
	Cache       cache.Cache
	Metrics     *otel.Metrics
	Logger      *slog.Logger
}

// Engine orchestrates sync passes over connections.
type Engine struct {
	store       database.Store
	queue       messagequeue.Queue
	broadcaster broadcast.Broadcaster
	cache       cache.Cache
	metrics     *otel.Metrics
	logger      *slog.Logger

	syncCfg    config.Sync
	breakerCfg config.Breaker
	cacheCfg   config.Cache

	mu       sync.Mutex
	adapters map[string]*boundAdapter
}

// NewEngine wires an engine from its collaborators and configuration.
func NewEngine(deps Deps, cfg config.Config) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:       deps.Store,
		queue:       deps.Queue,
		broadcaster: deps.Broadcaster,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		logger:      logger,
		syncCfg:     cfg.Sync,
		breakerCfg:  cfg.Breaker,
		cacheCfg:    cfg.Cache,
		adapters:    make(map[string]*boundAdapter),
	}
}

// publish sends an audit event to the queue, if one is configured. Publish
// failures are logged, never propagated: the sync outcome is already durable
// in the store.
func (e *Engine) publish(ctx context.Context, subject string, payload any) {
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshal audit event", "subject", subject, "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		e.logger.Warn("publish audit event", "subject", subject, "error", err)
	}
}

func (e *Engine) broadcast(ctx context.Context, eventType string, payload any) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.BroadcastEvent(ctx, eventType, payload)
}

// Event type names reused from the ws adapter so HTTP and socket clients see
// one vocabulary.
const (
	eventSyncStarted      = ws.EventSyncStarted
	eventSyncCompleted    = ws.EventSyncCompleted
	eventSyncFailed       = ws.EventSyncFailed
	eventConflictDetected = ws.EventConflictDetected
	eventConflictResolved = ws.EventConflictResolved
)
