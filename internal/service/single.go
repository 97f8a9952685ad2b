package service

import (
	"context"
	"fmt"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain/mapping"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/task"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/messagequeue"
)

// SyncSingleTask syncs one canonical task across every connection it is
// mapped to. This is the only path that detects conflicts: the stored
// fingerprint F is compared against the local fingerprint L and the external
// fingerprint E, and divergence on both sides raises a persisted conflict
// instead of silently overwriting either edit. Disabled connections are
// still valid targets here.
func (e *Engine) SyncSingleTask(ctx context.Context, taskID string, direction syncdom.Direction) (*syncdom.SingleResult, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("direction %q is not one of pull, push, bidirectional", direction)
	}
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	mappings, err := e.store.ListTaskMappingsForTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task mappings: %w", err)
	}

	res := &syncdom.SingleResult{SyncedTo: []string{}}
	now := time.Now().UTC()
	for i := range mappings {
		m := &mappings[i]
		if err := e.syncOneMapping(ctx, t, m, direction, now, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("mapping %s: %v", m.ID, err))
		}
	}
	return res, nil
}

func (e *Engine) syncOneMapping(ctx context.Context, t *task.Task, m *mapping.TaskMapping, direction syncdom.Direction, now time.Time, res *syncdom.SingleResult) error {
	pm, err := e.store.GetProjectMapping(ctx, m.ProjectMappingID)
	if err != nil {
		return err
	}
	conn, err := e.store.GetConnection(ctx, pm.ConnectionID)
	if err != nil {
		return err
	}
	ba, err := e.adapterFor(conn)
	if err != nil {
		return err
	}
	rt := &runtime{conn: conn, ba: ba}

	var ext *unified.Task
	if err := e.call(ctx, ba, "GetTask", func(ctx context.Context) error {
		var err error
		ext, err = ba.adapter.GetTask(ctx, pm.ExternalProjectID, m.ExternalTaskID)
		return err
	}); err != nil {
		return err
	}

	// External side deleted the task. Pull has nothing to pull; push-capable
	// directions recreate it.
	if ext == nil {
		if direction == syncdom.DirectionPull {
			return fmt.Errorf("external task %s no longer exists", m.ExternalTaskID)
		}
		if err := e.recreateExternal(ctx, rt, pm, m, t, now); err != nil {
			return err
		}
		res.SyncedTo = append(res.SyncedTo, conn.ID)
		return nil
	}

	stored := m.LastSyncHash // F
	local := t.Fingerprint() // L
	external := ext.Fingerprint()

	switch direction {
	case syncdom.DirectionPull:
		if external != stored {
			if err := e.pullSingle(ctx, t, m, ext, external, now); err != nil {
				return err
			}
		}
	case syncdom.DirectionPush:
		if local != stored {
			if err := e.pushSingle(ctx, rt, pm, m, t, local, now); err != nil {
				return err
			}
		}
	case syncdom.DirectionBidi:
		switch {
		case local == stored && external == stored:
			// in sync, nothing to move
		case local != stored && external == stored:
			if err := e.pushSingle(ctx, rt, pm, m, t, local, now); err != nil {
				return err
			}
		case local == stored && external != stored:
			if err := e.pullSingle(ctx, t, m, ext, external, now); err != nil {
				return err
			}
		case local == external:
			// both sides made the same edit; just agree on the new fingerprint
			if err := e.markSynced(ctx, m, local, now); err != nil {
				return err
			}
		default:
			if err := e.raiseConflict(ctx, rt, t, ext); err != nil {
				return err
			}
			res.Conflicts++
			return nil
		}
	}

	res.SyncedTo = append(res.SyncedTo, conn.ID)
	return nil
}

func (e *Engine) pullSingle(ctx context.Context, t *task.Task, m *mapping.TaskMapping, ext *unified.Task, extHash string, now time.Time) error {
	t.ApplyUnified(ext)
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	if ext.URL != "" {
		m.ExternalURL = ext.URL
	}
	return e.markSynced(ctx, m, extHash, now)
}

func (e *Engine) pushSingle(ctx context.Context, rt *runtime, pm *mapping.ProjectMapping, m *mapping.TaskMapping, t *task.Task, localHash string, now time.Time) error {
	u := t.ToUnified()
	u.ExternalID = m.ExternalTaskID
	u.ProjectExternalID = pm.ExternalProjectID

	var updated *unified.Task
	if err := e.call(ctx, rt.ba, "UpdateTask", func(ctx context.Context) error {
		var err error
		updated, err = rt.ba.adapter.UpdateTask(ctx, u)
		return err
	}); err != nil {
		return err
	}
	if err := e.completeExternal(ctx, rt, pm, m, t); err != nil {
		return err
	}
	if updated.URL != "" {
		m.ExternalURL = updated.URL
	}
	return e.markSynced(ctx, m, localHash, now)
}

// recreateExternal pushes the canonical task as a brand new external task and
// repoints the mapping at it.
func (e *Engine) recreateExternal(ctx context.Context, rt *runtime, pm *mapping.ProjectMapping, m *mapping.TaskMapping, t *task.Task, now time.Time) error {
	u := t.ToUnified()
	u.ProjectExternalID = pm.ExternalProjectID

	var created *unified.Task
	if err := e.call(ctx, rt.ba, "CreateTask", func(ctx context.Context) error {
		var err error
		created, err = rt.ba.adapter.CreateTask(ctx, u)
		return err
	}); err != nil {
		return err
	}
	m.ExternalTaskID = created.ExternalID
	m.ExternalURL = created.URL
	if err := e.markSynced(ctx, m, t.Fingerprint(), now); err != nil {
		return err
	}
	return e.completeExternal(ctx, rt, pm, m, t)
}

func (e *Engine) markSynced(ctx context.Context, m *mapping.TaskMapping, hash string, now time.Time) error {
	m.LastSyncHash = hash
	m.LastSyncAt = &now
	m.LastSyncStatus = mappingSynced
	return e.store.UpdateTaskMapping(ctx, m)
}

// raiseConflict persists a pending conflict with both snapshots, leaving both
// sides untouched, then applies the configured default resolution when it is
// not manual.
func (e *Engine) raiseConflict(ctx context.Context, rt *runtime, t *task.Task, ext *unified.Task) error {
	conflict, err := e.store.CreateConflict(ctx, &syncdom.Conflict{
		EntityType:   syncdom.EntityTask,
		EntityID:     t.ID,
		ConnectionID: rt.conn.ID,
		MagnusData:   taskSnapshot(t),
		ExternalData: externalTaskSnapshot(ext),
	})
	if err != nil {
		return fmt.Errorf("persist conflict: %w", err)
	}

	payload := map[string]any{
		"conflict_id":   conflict.ID,
		"entity_type":   conflict.EntityType,
		"entity_id":     conflict.EntityID,
		"connection_id": conflict.ConnectionID,
		"tool":          rt.conn.ToolName,
	}
	e.publish(ctx, messagequeue.SubjectConflictDetected, payload)
	e.broadcast(ctx, eventConflictDetected, payload)
	if e.metrics != nil {
		e.metrics.RecordConflictDetected(ctx, rt.conn.ToolName)
	}
	e.logger.Warn("sync conflict detected",
		"conflict_id", conflict.ID,
		"task_id", t.ID,
		"connection_id", rt.conn.ID,
	)

	defaultRes := syncdom.Resolution(e.syncCfg.DefaultResolution)
	if defaultRes != "" && defaultRes != syncdom.ResolutionManual {
		if _, err := e.applyResolution(ctx, conflict, defaultRes, nil); err != nil {
			e.logger.Error("apply default resolution", "conflict_id", conflict.ID, "error", err)
		}
	}
	return nil
}
