// Package database defines the port interface for the persistent store
// backing canonical entities, connections, mappings, conflicts, and the sync
// log.
package database

import (
	"context"
	"time"

	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/mapping"
	"github.com/magnus-suite/magnus-sync/internal/domain/project"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/task"
)

// Store is the port interface for the relational store. Every write is a
// single independent statement scoped to one entity or one
// invocation-completion event; no method spans a transaction over multiple
// entities.
type Store interface {
	// --- Connections ---
	ListConnections(ctx context.Context) ([]connection.Connection, error)
	ListEnabledConnections(ctx context.Context) ([]connection.Connection, error)
	GetConnection(ctx context.Context, id string) (*connection.Connection, error)
	CreateConnection(ctx context.Context, req connection.CreateRequest) (*connection.Connection, error)
	UpdateConnection(ctx context.Context, conn *connection.Connection) error
	DeleteConnection(ctx context.Context, id string) error
	// SetConnectionSyncState records the outcome of the latest sync pass on
	// the connection row.
	SetConnectionSyncState(ctx context.Context, id string, at time.Time, status, errMsg string) error

	// --- Canonical projects ---
	ListProjects(ctx context.Context) ([]project.Project, error)
	GetProject(ctx context.Context, id string) (*project.Project, error)
	CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error)
	UpdateProject(ctx context.Context, p *project.Project) error

	// --- Canonical tasks ---
	ListTasks(ctx context.Context, projectID string) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error

	// --- Project mappings ---
	ListProjectMappings(ctx context.Context, connectionID string) ([]mapping.ProjectMapping, error)
	GetProjectMapping(ctx context.Context, id string) (*mapping.ProjectMapping, error)
	// FindProjectMapping returns nil, not an error, when no mapping exists
	// for (connection, external project).
	FindProjectMapping(ctx context.Context, connectionID, externalProjectID string) (*mapping.ProjectMapping, error)
	// FindProjectMappingByProject looks up the mapping linking a canonical
	// project to a connection; nil when unmapped.
	FindProjectMappingByProject(ctx context.Context, connectionID, projectID string) (*mapping.ProjectMapping, error)
	CreateProjectMapping(ctx context.Context, m *mapping.ProjectMapping) (*mapping.ProjectMapping, error)
	UpdateProjectMapping(ctx context.Context, m *mapping.ProjectMapping) error

	// --- Task mappings ---
	ListTaskMappings(ctx context.Context, projectMappingID string) ([]mapping.TaskMapping, error)
	FindTaskMapping(ctx context.Context, projectMappingID, externalTaskID string) (*mapping.TaskMapping, error)
	FindTaskMappingByTask(ctx context.Context, projectMappingID, taskID string) (*mapping.TaskMapping, error)
	// ListTaskMappingsForTask returns every mapping of one canonical task
	// across all connections, for targeted single-task syncs.
	ListTaskMappingsForTask(ctx context.Context, taskID string) ([]mapping.TaskMapping, error)
	CreateTaskMapping(ctx context.Context, m *mapping.TaskMapping) (*mapping.TaskMapping, error)
	UpdateTaskMapping(ctx context.Context, m *mapping.TaskMapping) error

	// --- Sync log ---
	CreateSyncLog(ctx context.Context, l *syncdom.Log) (*syncdom.Log, error)
	FinishSyncLog(ctx context.Context, l *syncdom.Log) error
	ListRecentSyncLogs(ctx context.Context, connectionID string, limit int) ([]syncdom.Log, error)
	CountRunningSyncLogs(ctx context.Context) (int, error)

	// --- Conflicts ---
	CreateConflict(ctx context.Context, c *syncdom.Conflict) (*syncdom.Conflict, error)
	GetConflict(ctx context.Context, id string) (*syncdom.Conflict, error)
	ListConflicts(ctx context.Context, connectionID string, status syncdom.ConflictStatus) ([]syncdom.Conflict, error)
	UpdateConflict(ctx context.Context, c *syncdom.Conflict) error
}
