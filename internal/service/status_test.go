package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/config"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/service"
)

// fakeCache is a TTL-less in-memory cache for status tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	return data, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.sets++
	return nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func newTestEngineWithCache(t *testing.T, fs *fakeStore, fa *fakeAdapter, fc *fakeCache) *service.Engine {
	t.Helper()
	setCurrentFake(fa)
	cfg := config.Defaults()
	deps := service.Deps{Store: fs, Cache: fc}
	return service.NewEngine(deps, cfg)
}

func TestGetSyncStatusAggregates(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	fa.projects["ext-1"] = &unified.Project{ExternalID: "ext-1", Name: "P"}
	conn := addConnection(t, fs)
	eng := newTestEngine(t, fs, fa, nil)
	ctx := context.Background()

	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull); err != nil {
		t.Fatalf("SyncProjects: %v", err)
	}

	status, err := eng.GetSyncStatus(ctx, "")
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if len(status.Connections) != 1 {
		t.Fatalf("got %d connections", len(status.Connections))
	}
	cs := status.Connections[0]
	if cs.ConnectionID != conn.ID || cs.ToolName != "faketool" {
		t.Errorf("connection status = %+v", cs)
	}
	if cs.LastSyncStatus != string(syncdom.StatusCompleted) {
		t.Errorf("last sync status = %q", cs.LastSyncStatus)
	}
	if len(status.RecentSyncs) != 1 {
		t.Errorf("recent syncs = %d", len(status.RecentSyncs))
	}
	if status.InProgress != 0 {
		t.Errorf("in progress = %d", status.InProgress)
	}
}

func TestGetSyncStatusFiltersByConnection(t *testing.T) {
	fs := newFakeStore()
	connA := addConnection(t, fs)
	addConnection(t, fs)
	eng := newTestEngine(t, fs, newFakeAdapter(), nil)

	status, err := eng.GetSyncStatus(context.Background(), connA.ID)
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if len(status.Connections) != 1 || status.Connections[0].ConnectionID != connA.ID {
		t.Errorf("filter not applied: %+v", status.Connections)
	}
}

func TestGetSyncStatusUsesCache(t *testing.T) {
	fs := newFakeStore()
	addConnection(t, fs)
	fc := newFakeCache()
	eng := newTestEngineWithCache(t, fs, newFakeAdapter(), fc)
	ctx := context.Background()

	if _, err := eng.GetSyncStatus(ctx, ""); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if fc.sets != 1 {
		t.Fatalf("aggregate not cached, sets = %d", fc.sets)
	}
	if _, err := eng.GetSyncStatus(ctx, ""); err != nil {
		t.Fatalf("second read: %v", err)
	}
	if fc.sets != 1 {
		t.Errorf("cached read rebuilt the aggregate, sets = %d", fc.sets)
	}
}

func TestSyncRunInvalidatesStatusCache(t *testing.T) {
	fs := newFakeStore()
	fa := newFakeAdapter()
	conn := addConnection(t, fs)
	fc := newFakeCache()
	eng := newTestEngineWithCache(t, fs, fa, fc)
	ctx := context.Background()

	if _, err := eng.GetSyncStatus(ctx, ""); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	if _, err := eng.SyncProjects(ctx, conn.ID, syncdom.DirectionPull); err != nil {
		t.Fatalf("SyncProjects: %v", err)
	}

	status, err := eng.GetSyncStatus(ctx, "")
	if err != nil {
		t.Fatalf("GetSyncStatus: %v", err)
	}
	if len(status.RecentSyncs) != 1 {
		t.Errorf("status served stale cache after a sync run")
	}
}
