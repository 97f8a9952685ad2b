package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
)

// Scheduler drives periodic bidirectional syncs of every enabled connection.
// Distinct connections sync concurrently; runs on the same connection are
// serialized here, so a slow tool cannot stack overlapping passes.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewScheduler builds a scheduler around the engine.
func NewScheduler(engine *Engine, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   engine,
		interval: interval,
		logger:   logger,
		inFlight: make(map[string]bool),
	}
}

// Run ticks until the context is cancelled. The first pass fires one interval
// after start, not immediately, so a crash-looping process does not hammer the
// external tools.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sync scheduler started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick syncs every enabled connection once, skipping those still mid-run from
// a previous tick.
func (s *Scheduler) tick(ctx context.Context) {
	conns, err := s.engine.store.ListEnabledConnections(ctx)
	if err != nil {
		s.logger.Error("list enabled connections", "error", err)
		return
	}
	if len(conns) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range conns {
		conn := conns[i]
		if !s.tryAcquire(conn.ID) {
			s.logger.Warn("previous sync still running, skipping",
				"connection_id", conn.ID, "tool", conn.ToolName)
			continue
		}
		g.Go(func() error {
			defer s.release(conn.ID)
			s.syncConnection(gctx, conn.ID, conn.ToolName)
			return nil
		})
	}
	_ = g.Wait()
}

// syncConnection runs one full bidirectional pass: projects first, then every
// mapped project's tasks. Errors are logged, never propagated; the sync log
// already records them per run.
func (s *Scheduler) syncConnection(ctx context.Context, connectionID, tool string) {
	if _, err := s.engine.SyncProjects(ctx, connectionID, syncdom.DirectionBidi); err != nil {
		s.logger.Error("scheduled project sync failed",
			"connection_id", connectionID, "tool", tool, "error", err)
		return
	}
	if _, err := s.engine.SyncTasks(ctx, connectionID, "", syncdom.DirectionBidi); err != nil {
		s.logger.Error("scheduled task sync failed",
			"connection_id", connectionID, "tool", tool, "error", err)
	}
}

func (s *Scheduler) tryAcquire(connectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[connectionID] {
		return false
	}
	s.inFlight[connectionID] = true
	return true
}

func (s *Scheduler) release(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, connectionID)
}
