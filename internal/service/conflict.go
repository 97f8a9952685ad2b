package service

import (
	"context"
	"fmt"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/mapping"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/task"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/messagequeue"
)

// ListConflicts returns conflicts, optionally filtered by connection and
// status. Empty filters match everything.
func (e *Engine) ListConflicts(ctx context.Context, connectionID string, status syncdom.ConflictStatus) ([]syncdom.Conflict, error) {
	return e.store.ListConflicts(ctx, connectionID, status)
}

// ResolveConflict applies a resolution strategy to a pending conflict.
// NEWEST_WINS falls back to leaving the conflict pending when either side
// lacks a trustworthy timestamp; MANUAL requires a merged payload.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution syncdom.Resolution, mergedData map[string]any) (*syncdom.Conflict, error) {
	if !resolution.Valid() {
		return nil, fmt.Errorf("resolution %q is not one of external_wins, local_wins, newest_wins, manual", resolution)
	}
	c, err := e.store.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if c.Status != syncdom.ConflictPending {
		return nil, fmt.Errorf("conflict %s is already %s: %w", c.ID, c.Status, domain.ErrConflict)
	}
	return e.applyResolution(ctx, c, resolution, mergedData)
}

func (e *Engine) applyResolution(ctx context.Context, c *syncdom.Conflict, resolution syncdom.Resolution, mergedData map[string]any) (*syncdom.Conflict, error) {
	if c.EntityType != syncdom.EntityTask {
		return nil, fmt.Errorf("conflict %s: entity type %q not resolvable", c.ID, c.EntityType)
	}

	switch resolution {
	case syncdom.ResolutionExternalWins:
		if err := e.resolveExternalWins(ctx, c); err != nil {
			return nil, err
		}
		c.Status = syncdom.ConflictResolvedExternal
	case syncdom.ResolutionLocalWins:
		if err := e.resolveLocalWins(ctx, c); err != nil {
			return nil, err
		}
		c.Status = syncdom.ConflictResolvedMagnus
	case syncdom.ResolutionNewestWins:
		winner, ok := newerSide(c)
		if !ok {
			// One side has no trustworthy timestamp; an operator has to look.
			e.logger.Info("newest_wins has no timestamps to compare, conflict stays pending",
				"conflict_id", c.ID)
			return c, nil
		}
		if winner == syncdom.ResolutionExternalWins {
			if err := e.resolveExternalWins(ctx, c); err != nil {
				return nil, err
			}
			c.Status = syncdom.ConflictResolvedExternal
		} else {
			if err := e.resolveLocalWins(ctx, c); err != nil {
				return nil, err
			}
			c.Status = syncdom.ConflictResolvedMagnus
		}
	case syncdom.ResolutionManual:
		if len(mergedData) == 0 {
			return nil, fmt.Errorf("manual resolution requires merged_data")
		}
		if err := e.resolveMerged(ctx, c, mergedData); err != nil {
			return nil, err
		}
		c.Status = syncdom.ConflictMerged
	}

	now := time.Now().UTC()
	c.Resolution = resolution
	c.ResolvedAt = &now
	if err := e.store.UpdateConflict(ctx, c); err != nil {
		return nil, fmt.Errorf("update conflict: %w", err)
	}

	payload := map[string]any{
		"conflict_id":   c.ID,
		"entity_type":   c.EntityType,
		"entity_id":     c.EntityID,
		"connection_id": c.ConnectionID,
		"resolution":    resolution,
		"status":        c.Status,
	}
	e.publish(ctx, messagequeue.SubjectConflictResolved, payload)
	e.broadcast(ctx, eventConflictResolved, payload)
	if e.metrics != nil {
		e.metrics.RecordConflictResolved(ctx, string(resolution))
	}
	return c, nil
}

// resolveExternalWins copies the external snapshot onto the canonical task
// and records the new agreed fingerprint.
func (e *Engine) resolveExternalWins(ctx context.Context, c *syncdom.Conflict) error {
	t, err := e.store.GetTask(ctx, c.EntityID)
	if err != nil {
		return err
	}
	t.ApplyUnified(snapshotToUnified(c.ExternalData))
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}

	m, _, err := e.mappingForConnection(ctx, c.EntityID, c.ConnectionID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return e.markSynced(ctx, m, t.Fingerprint(), now)
}

// resolveLocalWins pushes the canonical task, discarding the external edit.
func (e *Engine) resolveLocalWins(ctx context.Context, c *syncdom.Conflict) error {
	t, err := e.store.GetTask(ctx, c.EntityID)
	if err != nil {
		return err
	}
	return e.pushCanonical(ctx, c.ConnectionID, t)
}

// resolveMerged applies the operator's merged payload to the canonical task
// and pushes it external, so both sides converge on the merge.
func (e *Engine) resolveMerged(ctx context.Context, c *syncdom.Conflict, mergedData map[string]any) error {
	t, err := e.store.GetTask(ctx, c.EntityID)
	if err != nil {
		return err
	}
	t.ApplyUnified(snapshotToUnified(mergedData))
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	return e.pushCanonical(ctx, c.ConnectionID, t)
}

func (e *Engine) pushCanonical(ctx context.Context, connectionID string, t *task.Task) error {
	m, pm, err := e.mappingForConnection(ctx, t.ID, connectionID)
	if err != nil {
		return err
	}
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return err
	}
	ba, err := e.adapterFor(conn)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return e.pushSingle(ctx, &runtime{conn: conn, ba: ba}, pm, m, t, t.Fingerprint(), now)
}

// mappingForConnection resolves the task mapping that links a canonical task
// to one connection, going through the project mapping layer.
func (e *Engine) mappingForConnection(ctx context.Context, taskID, connectionID string) (*mapping.TaskMapping, *mapping.ProjectMapping, error) {
	mappings, err := e.store.ListTaskMappingsForTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	for i := range mappings {
		pm, err := e.store.GetProjectMapping(ctx, mappings[i].ProjectMappingID)
		if err != nil {
			return nil, nil, err
		}
		if pm.ConnectionID == connectionID {
			return &mappings[i], pm, nil
		}
	}
	return nil, nil, fmt.Errorf("task %s has no mapping on connection %s: %w", taskID, connectionID, domain.ErrNotFound)
}

// --- snapshots ---

// taskSnapshot captures the canonical task's mutable fields plus its
// last-modified time, which is always trustworthy on our side.
func taskSnapshot(t *task.Task) map[string]any {
	return map[string]any{
		"title":       t.Title,
		"description": t.Description,
		"status":      string(t.Status),
		"priority":    string(t.Priority),
		"updated_at":  t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// externalTaskSnapshot captures the external task's mutable fields. The
// timestamp is included only when the tool reported a trustworthy one.
func externalTaskSnapshot(u *unified.Task) map[string]any {
	s := map[string]any{
		"title":       u.Title,
		"description": u.Description,
		"status":      string(u.Status),
		"priority":    string(u.Priority),
	}
	if u.RemoteUpdatedAt != nil {
		s["updated_at"] = u.RemoteUpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return s
}

// snapshotToUnified rebuilds a unified task from a stored snapshot, for
// applying a resolution onto the canonical row.
func snapshotToUnified(data map[string]any) *unified.Task {
	u := &unified.Task{}
	if v, ok := data["title"].(string); ok {
		u.Title = v
	}
	if v, ok := data["description"].(string); ok {
		u.Description = v
	}
	if v, ok := data["status"].(string); ok {
		u.Status = unified.TaskStatus(v)
	}
	if v, ok := data["priority"].(string); ok {
		u.Priority = unified.Priority(v)
	}
	return u
}

// newerSide compares the two snapshots' timestamps. The second return is
// false when either side lacks one.
func newerSide(c *syncdom.Conflict) (syncdom.Resolution, bool) {
	localAt, ok1 := snapshotTime(c.MagnusData)
	externalAt, ok2 := snapshotTime(c.ExternalData)
	if !ok1 || !ok2 {
		return "", false
	}
	if externalAt.After(localAt) {
		return syncdom.ResolutionExternalWins, true
	}
	return syncdom.ResolutionLocalWins, true
}

func snapshotTime(data map[string]any) (time.Time, bool) {
	v, ok := data["updated_at"].(string)
	if !ok || v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
