// Package pmtool defines the port interface every PM tool adapter implements
// (Leantime, OpenProject, Asana, Jira, Monday, Notion, Linear), plus the
// factory registry that maps a connection's tool name to a constructor.
package pmtool

import (
	"context"

	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
)

// Capabilities declares which operations a tool adapter supports.
type Capabilities struct {
	Projects      bool `json:"projects"`
	Tasks         bool `json:"tasks"`
	CreateProject bool `json:"create_project"`
	UpdateProject bool `json:"update_project"`
	CreateTask    bool `json:"create_task"`
	UpdateTask    bool `json:"update_task"`
	CompleteTask  bool `json:"complete_task"`
}

// Adapter translates one external tool's API into the unified model and back,
// hiding all protocol detail (REST vs GraphQL, pagination, auth, status
// vocabulary).
//
// Error discipline: List* return an empty slice, not an error, on non-fatal
// format surprises; only adapter-level outage errors. Get* return (nil, nil)
// on 404. Create*/Update* populate ExternalID and URL from the tool's
// response, and Update* is idempotent given identical input.
type Adapter interface {
	// Name returns the tool identifier ("jira", "linear", ...).
	Name() string

	// Capabilities returns what this adapter supports.
	Capabilities() Capabilities

	// TestConnection is a cheap liveness probe. It returns false, never an
	// error, on ordinary auth failure.
	TestConnection(ctx context.Context) bool

	ListProjects(ctx context.Context) ([]unified.Project, error)
	GetProject(ctx context.Context, externalID string) (*unified.Project, error)
	CreateProject(ctx context.Context, p *unified.Project) (*unified.Project, error)
	UpdateProject(ctx context.Context, p *unified.Project) (*unified.Project, error)

	ListTasks(ctx context.Context, externalProjectID string) ([]unified.Task, error)
	GetTask(ctx context.Context, externalProjectID, externalID string) (*unified.Task, error)
	CreateTask(ctx context.Context, t *unified.Task) (*unified.Task, error)
	UpdateTask(ctx context.Context, t *unified.Task) (*unified.Task, error)

	// CompleteTask moves the task to the tool's terminal state, performing
	// whatever multi-step lookup that requires (resolving a workflow's
	// "Done"-typed state id, fetching a lock version before a mutating
	// write). It returns false when no terminal state can be resolved.
	CompleteTask(ctx context.Context, externalProjectID, externalID string) (bool, error)
}
