package service

import (
	"context"
	"fmt"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/adapter/otel"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/mapping"
	"github.com/magnus-suite/magnus-sync/internal/domain/project"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/task"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/messagequeue"
)

const mappingSynced = "completed"

// runtime carries one invocation's resolved connection and adapter.
type runtime struct {
	conn *connection.Connection
	ba   *boundAdapter
}

// SyncProjects runs a bulk project pass over one connection.
func (e *Engine) SyncProjects(ctx context.Context, connectionID string, direction syncdom.Direction) (*syncdom.Result, error) {
	return e.runBulk(ctx, connectionID, direction, func(passCtx context.Context, rt *runtime, res *syncdom.Result) {
		if direction == syncdom.DirectionPull || direction == syncdom.DirectionBidi {
			e.pullProjects(passCtx, rt, res)
		}
		if direction == syncdom.DirectionPush || direction == syncdom.DirectionBidi {
			e.pushProjects(passCtx, rt, res)
		}
	})
}

// SyncTasks runs a bulk task pass over one connection. When projectMappingID
// is set the pass is limited to that mapped project.
func (e *Engine) SyncTasks(ctx context.Context, connectionID, projectMappingID string, direction syncdom.Direction) (*syncdom.Result, error) {
	return e.runBulk(ctx, connectionID, direction, func(passCtx context.Context, rt *runtime, res *syncdom.Result) {
		mappings, err := e.taskPassMappings(passCtx, rt, projectMappingID)
		if err != nil {
			res.Errors = append(res.Errors, err.Error())
			return
		}
		for i := range mappings {
			pm := &mappings[i]
			if direction == syncdom.DirectionPull || direction == syncdom.DirectionBidi {
				e.pullTasks(passCtx, rt, pm, res)
			}
			if direction == syncdom.DirectionPush || direction == syncdom.DirectionBidi {
				e.pushTasks(passCtx, rt, pm, res)
			}
		}
	})
}

func (e *Engine) taskPassMappings(ctx context.Context, rt *runtime, projectMappingID string) ([]mapping.ProjectMapping, error) {
	if projectMappingID == "" {
		return e.store.ListProjectMappings(ctx, rt.conn.ID)
	}
	pm, err := e.store.GetProjectMapping(ctx, projectMappingID)
	if err != nil {
		return nil, err
	}
	if pm.ConnectionID != rt.conn.ID {
		return nil, fmt.Errorf("project mapping %s does not belong to connection %s", projectMappingID, rt.conn.ID)
	}
	return []mapping.ProjectMapping{*pm}, nil
}

// runBulk wraps one bulk invocation: sync log lifecycle (exactly one
// completion write), adapter construction, pass timeout, connection sync
// state, and event emission. Adapter-construction failure is fatal; anything
// inside the pass is recorded per entity and the batch continues.
func (e *Engine) runBulk(ctx context.Context, connectionID string, direction syncdom.Direction, pass func(context.Context, *runtime, *syncdom.Result)) (*syncdom.Result, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("direction %q is not one of pull, push, bidirectional", direction)
	}
	conn, err := e.store.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	log, err := e.store.CreateSyncLog(ctx, &syncdom.Log{
		ConnectionID: conn.ID,
		Scope:        syncdom.ScopeFull,
		Direction:    direction,
	})
	if err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}
	e.broadcast(ctx, eventSyncStarted, map[string]any{
		"connection_id": conn.ID,
		"tool":          conn.ToolName,
		"direction":     direction,
	})

	ba, err := e.adapterFor(conn)
	if err != nil {
		e.finishRun(ctx, conn, log, nil, err)
		return nil, err
	}

	spanCtx, span := otel.StartSyncSpan(ctx, conn.ToolName, conn.ID, string(direction))
	passCtx, cancel := context.WithTimeout(spanCtx, e.syncCfg.PassTimeout)
	res := &syncdom.Result{Direction: direction}
	pass(passCtx, &runtime{conn: conn, ba: ba}, res)
	cancel()
	otel.EndSpan(span, nil)

	e.finishRun(ctx, conn, log, res, nil)
	return res, nil
}

// finishRun writes the log's terminal state, updates the connection's sync
// state, and emits audit and live events.
func (e *Engine) finishRun(ctx context.Context, conn *connection.Connection, log *syncdom.Log, res *syncdom.Result, fatal error) {
	now := time.Now().UTC()
	if fatal != nil {
		log.Status = syncdom.StatusFailed
		log.ErrorMessage = fatal.Error()
	} else {
		log.ItemsSynced = res.Pulled + res.Pushed
		log.ItemsCreated = res.Created
		log.ItemsUpdated = res.Updated
		log.ItemsFailed = len(res.Errors)
		log.ConflictsDetected = res.Conflicts
		log.Status = syncdom.StatusCompleted
		if len(res.Errors) > 0 {
			log.Status = syncdom.StatusPartial
			log.ErrorMessage = res.Errors[0]
		}
	}

	if err := e.store.FinishSyncLog(ctx, log); err != nil {
		e.logger.Error("finish sync log", "connection_id", conn.ID, "error", err)
	}
	if err := e.store.SetConnectionSyncState(ctx, conn.ID, now, string(log.Status), log.ErrorMessage); err != nil {
		e.logger.Error("set connection sync state", "connection_id", conn.ID, "error", err)
	}
	e.invalidateStatusCache(ctx)

	payload := map[string]any{
		"connection_id":      conn.ID,
		"tool":               conn.ToolName,
		"direction":          log.Direction,
		"status":             log.Status,
		"items_synced":       log.ItemsSynced,
		"items_created":      log.ItemsCreated,
		"items_updated":      log.ItemsUpdated,
		"items_failed":       log.ItemsFailed,
		"conflicts_detected": log.ConflictsDetected,
	}
	if log.Status == syncdom.StatusFailed {
		e.publish(ctx, messagequeue.SubjectSyncFailed, payload)
		e.broadcast(ctx, eventSyncFailed, payload)
	} else {
		e.publish(ctx, messagequeue.SubjectSyncCompleted, payload)
		e.broadcast(ctx, eventSyncCompleted, payload)
	}
	if e.metrics != nil {
		e.metrics.RecordSyncRun(ctx, conn.ToolName, string(log.Status))
		if res != nil {
			e.metrics.RecordEntitiesSynced(ctx, conn.ToolName, "pull", res.Pulled)
			e.metrics.RecordEntitiesSynced(ctx, conn.ToolName, "push", res.Pushed)
		}
	}

	e.logger.Info("sync run finished",
		"connection_id", conn.ID,
		"tool", conn.ToolName,
		"direction", log.Direction,
		"status", log.Status,
		"synced", log.ItemsSynced,
		"failed", log.ItemsFailed,
	)
}

// --- project passes ---

func (e *Engine) pullProjects(ctx context.Context, rt *runtime, res *syncdom.Result) {
	var external []unified.Project
	if err := e.call(ctx, rt.ba, "ListProjects", func(ctx context.Context) error {
		var err error
		external, err = rt.ba.adapter.ListProjects(ctx)
		return err
	}); err != nil {
		res.Errors = append(res.Errors, err.Error())
		return
	}

	now := time.Now().UTC()
	for i := range external {
		ext := &external[i]
		if err := e.pullOneProject(ctx, rt, ext, now, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("pull project %s: %v", ext.ExternalID, err))
		}
	}
}

func (e *Engine) pullOneProject(ctx context.Context, rt *runtime, ext *unified.Project, now time.Time, res *syncdom.Result) error {
	m, err := e.store.FindProjectMapping(ctx, rt.conn.ID, ext.ExternalID)
	if err != nil {
		return err
	}
	extHash := ext.Fingerprint()

	if m == nil {
		created, err := e.store.CreateProject(ctx, project.FromUnified(ext))
		if err != nil {
			return err
		}
		_, err = e.store.CreateProjectMapping(ctx, &mapping.ProjectMapping{
			ConnectionID:      rt.conn.ID,
			ProjectID:         created.ID,
			ExternalProjectID: ext.ExternalID,
			ExternalName:      ext.Name,
			ExternalURL:       ext.URL,
			LastSyncHash:      extHash,
			LastSyncAt:        &now,
			LastSyncStatus:    mappingSynced,
		})
		if err != nil {
			return err
		}
		res.Pulled++
		res.Created++
		return nil
	}

	if m.LastSyncHash == extHash {
		return nil
	}

	p, err := e.store.GetProject(ctx, m.ProjectID)
	if err != nil {
		return err
	}
	p.ApplyUnified(ext)
	if err := e.store.UpdateProject(ctx, p); err != nil {
		return err
	}
	m.LastSyncHash = extHash
	m.ExternalName = ext.Name
	if ext.URL != "" {
		m.ExternalURL = ext.URL
	}
	m.LastSyncAt = &now
	m.LastSyncStatus = mappingSynced
	if err := e.store.UpdateProjectMapping(ctx, m); err != nil {
		return err
	}
	res.Pulled++
	res.Updated++
	return nil
}

func (e *Engine) pushProjects(ctx context.Context, rt *runtime, res *syncdom.Result) {
	locals, err := e.store.ListProjects(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list canonical projects: %v", err))
		return
	}

	caps := rt.ba.adapter.Capabilities()
	now := time.Now().UTC()
	for i := range locals {
		p := &locals[i]
		if err := e.pushOneProject(ctx, rt, p, caps.CreateProject, caps.UpdateProject, now, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("push project %s: %v", p.ID, err))
		}
	}
}

func (e *Engine) pushOneProject(ctx context.Context, rt *runtime, p *project.Project, canCreate, canUpdate bool, now time.Time, res *syncdom.Result) error {
	m, err := e.store.FindProjectMappingByProject(ctx, rt.conn.ID, p.ID)
	if err != nil {
		return err
	}
	localHash := p.Fingerprint()

	if m == nil {
		// Tools without project creation (Jira needs an admin-provisioned
		// project) simply never receive unmapped canonical projects.
		if !canCreate {
			return nil
		}
		var created *unified.Project
		if err := e.call(ctx, rt.ba, "CreateProject", func(ctx context.Context) error {
			var err error
			created, err = rt.ba.adapter.CreateProject(ctx, p.ToUnified())
			return err
		}); err != nil {
			return err
		}
		_, err = e.store.CreateProjectMapping(ctx, &mapping.ProjectMapping{
			ConnectionID:      rt.conn.ID,
			ProjectID:         p.ID,
			ExternalProjectID: created.ExternalID,
			ExternalName:      created.Name,
			ExternalURL:       created.URL,
			LastSyncHash:      localHash,
			LastSyncAt:        &now,
			LastSyncStatus:    mappingSynced,
		})
		if err != nil {
			return err
		}
		res.Pushed++
		res.Created++
		return nil
	}

	if m.LastSyncHash == localHash || !canUpdate {
		return nil
	}

	u := p.ToUnified()
	u.ExternalID = m.ExternalProjectID
	var updated *unified.Project
	if err := e.call(ctx, rt.ba, "UpdateProject", func(ctx context.Context) error {
		var err error
		updated, err = rt.ba.adapter.UpdateProject(ctx, u)
		return err
	}); err != nil {
		return err
	}
	m.LastSyncHash = localHash
	m.ExternalName = updated.Name
	if updated.URL != "" {
		m.ExternalURL = updated.URL
	}
	m.LastSyncAt = &now
	m.LastSyncStatus = mappingSynced
	if err := e.store.UpdateProjectMapping(ctx, m); err != nil {
		return err
	}
	res.Pushed++
	res.Updated++
	return nil
}

// --- task passes ---

func (e *Engine) pullTasks(ctx context.Context, rt *runtime, pm *mapping.ProjectMapping, res *syncdom.Result) {
	var external []unified.Task
	if err := e.call(ctx, rt.ba, "ListTasks", func(ctx context.Context) error {
		var err error
		external, err = rt.ba.adapter.ListTasks(ctx, pm.ExternalProjectID)
		return err
	}); err != nil {
		res.Errors = append(res.Errors, err.Error())
		return
	}

	now := time.Now().UTC()
	for i := range external {
		ext := &external[i]
		if err := e.pullOneTask(ctx, rt, pm, ext, now, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("pull task %s: %v", ext.ExternalID, err))
		}
	}
}

func (e *Engine) pullOneTask(ctx context.Context, rt *runtime, pm *mapping.ProjectMapping, ext *unified.Task, now time.Time, res *syncdom.Result) error {
	m, err := e.store.FindTaskMapping(ctx, pm.ID, ext.ExternalID)
	if err != nil {
		return err
	}
	extHash := ext.Fingerprint()

	if m == nil {
		created, err := e.store.CreateTask(ctx, task.FromUnified(pm.ProjectID, ext))
		if err != nil {
			return err
		}
		_, err = e.store.CreateTaskMapping(ctx, &mapping.TaskMapping{
			ProjectMappingID: pm.ID,
			TaskID:           created.ID,
			ExternalTaskID:   ext.ExternalID,
			ExternalURL:      ext.URL,
			LastSyncHash:     extHash,
			LastSyncAt:       &now,
			LastSyncStatus:   mappingSynced,
		})
		if err != nil {
			return err
		}
		res.Pulled++
		res.Created++
		return nil
	}

	if m.LastSyncHash == extHash {
		return nil
	}

	t, err := e.store.GetTask(ctx, m.TaskID)
	if err != nil {
		return err
	}
	t.ApplyUnified(ext)
	if err := e.store.UpdateTask(ctx, t); err != nil {
		return err
	}
	m.LastSyncHash = extHash
	if ext.URL != "" {
		m.ExternalURL = ext.URL
	}
	m.LastSyncAt = &now
	m.LastSyncStatus = mappingSynced
	if err := e.store.UpdateTaskMapping(ctx, m); err != nil {
		return err
	}
	res.Pulled++
	res.Updated++
	return nil
}

func (e *Engine) pushTasks(ctx context.Context, rt *runtime, pm *mapping.ProjectMapping, res *syncdom.Result) {
	locals, err := e.store.ListTasks(ctx, pm.ProjectID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("list canonical tasks: %v", err))
		return
	}

	caps := rt.ba.adapter.Capabilities()
	now := time.Now().UTC()
	for i := range locals {
		t := &locals[i]
		if err := e.pushOneTask(ctx, rt, pm, t, caps.CreateTask, caps.UpdateTask, now, res); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("push task %s: %v", t.ID, err))
		}
	}
}

func (e *Engine) pushOneTask(ctx context.Context, rt *runtime, pm *mapping.ProjectMapping, t *task.Task, canCreate, canUpdate bool, now time.Time, res *syncdom.Result) error {
	m, err := e.store.FindTaskMappingByTask(ctx, pm.ID, t.ID)
	if err != nil {
		return err
	}
	localHash := t.Fingerprint()

	if m == nil {
		if !canCreate {
			return nil
		}
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
		tm, err := e.store.CreateTaskMapping(ctx, &mapping.TaskMapping{
			ProjectMappingID: pm.ID,
			TaskID:           t.ID,
			ExternalTaskID:   created.ExternalID,
			ExternalURL:      created.URL,
			LastSyncHash:     localHash,
			LastSyncAt:       &now,
			LastSyncStatus:   mappingSynced,
		})
		if err != nil {
			return err
		}
		if err := e.completeExternal(ctx, rt, pm, tm, t); err != nil {
			return err
		}
		res.Pushed++
		res.Created++
		return nil
	}

	if m.LastSyncHash == localHash || !canUpdate {
		return nil
	}

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
	m.LastSyncHash = localHash
	if updated.URL != "" {
		m.ExternalURL = updated.URL
	}
	m.LastSyncAt = &now
	m.LastSyncStatus = mappingSynced
	if err := e.store.UpdateTaskMapping(ctx, m); err != nil {
		return err
	}
	res.Pushed++
	res.Updated++
	return nil
}

// completeExternal drives the external task into the tool's terminal state
// after a done task was pushed. Some tools never reach a terminal status
// through their update body (Jira only moves issues through transitions),
// so completion is a dedicated call whenever the canonical task is done.
func (e *Engine) completeExternal(ctx context.Context, rt *runtime, pm *mapping.ProjectMapping, m *mapping.TaskMapping, t *task.Task) error {
	if t.Status != unified.TaskDone || !rt.ba.adapter.Capabilities().CompleteTask {
		return nil
	}
	var completed bool
	if err := e.call(ctx, rt.ba, "CompleteTask", func(ctx context.Context) error {
		var err error
		completed, err = rt.ba.adapter.CompleteTask(ctx, pm.ExternalProjectID, m.ExternalTaskID)
		return err
	}); err != nil {
		return err
	}
	if !completed {
		e.logger.Warn("tool has no reachable terminal state",
			"tool", rt.ba.adapter.Name(),
			"external_task_id", m.ExternalTaskID,
		)
	}
	return nil
}
