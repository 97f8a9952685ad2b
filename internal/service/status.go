package service

import (
	"context"
	"encoding/json"

	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
)

const statusCacheKeyAll = "sync:status:all"

// GetSyncStatus builds the status aggregate: per-connection sync state, the
// recent sync log window, and the in-progress count. The unfiltered aggregate
// is served from the L1 cache with a short TTL; filtered requests always hit
// the store.
func (e *Engine) GetSyncStatus(ctx context.Context, connectionID string) (*syncdom.Status, error) {
	cacheable := connectionID == "" && e.cache != nil
	if cacheable {
		if data, ok, err := e.cache.Get(ctx, statusCacheKeyAll); err == nil && ok {
			var cached syncdom.Status
			if err := json.Unmarshal(data, &cached); err == nil {
				return &cached, nil
			}
			// Stale or corrupt entry, fall through to a rebuild.
			_ = e.cache.Delete(ctx, statusCacheKeyAll)
		}
	}

	conns, err := e.store.ListConnections(ctx)
	if err != nil {
		return nil, err
	}
	status := &syncdom.Status{Connections: []syncdom.ConnectionStatus{}}
	for i := range conns {
		c := &conns[i]
		if connectionID != "" && c.ID != connectionID {
			continue
		}
		status.Connections = append(status.Connections, syncdom.ConnectionStatus{
			ConnectionID:   c.ID,
			ToolName:       c.ToolName,
			SyncEnabled:    c.SyncEnabled,
			LastSyncAt:     c.LastSyncAt,
			LastSyncStatus: c.LastSyncStatus,
			LastSyncError:  c.LastSyncError,
		})
	}

	logs, err := e.store.ListRecentSyncLogs(ctx, connectionID, e.syncCfg.RecentLogLimit)
	if err != nil {
		return nil, err
	}
	status.RecentSyncs = logs

	running, err := e.store.CountRunningSyncLogs(ctx)
	if err != nil {
		return nil, err
	}
	status.InProgress = running

	if cacheable {
		if data, err := json.Marshal(status); err == nil {
			_ = e.cache.Set(ctx, statusCacheKeyAll, data, e.cacheCfg.StatusTTL)
		}
	}
	return status, nil
}

// invalidateStatusCache drops the cached aggregate after a run completes, so
// the next status read reflects the new log entry immediately instead of
// waiting out the TTL.
func (e *Engine) invalidateStatusCache(ctx context.Context) {
	if e.cache == nil {
		return
	}
	_ = e.cache.Delete(ctx, statusCacheKeyAll)
}
