package service_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/mapping"
	"github.com/magnus-suite/magnus-sync/internal/domain/project"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
	"github.com/magnus-suite/magnus-sync/internal/domain/task"
	"github.com/magnus-suite/magnus-sync/internal/domain/unified"
	"github.com/magnus-suite/magnus-sync/internal/port/pmtool"
)

// fakeStore is an in-memory database.Store for engine tests.
type fakeStore struct {
	mu sync.Mutex

	connections     map[string]*connection.Connection
	projects        map[string]*project.Project
	tasks           map[string]*task.Task
	projectMappings map[string]*mapping.ProjectMapping
	taskMappings    map[string]*mapping.TaskMapping
	syncLogs        map[string]*syncdom.Log
	conflicts       map[string]*syncdom.Conflict
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		connections:     make(map[string]*connection.Connection),
		projects:        make(map[string]*project.Project),
		tasks:           make(map[string]*task.Task),
		projectMappings: make(map[string]*mapping.ProjectMapping),
		taskMappings:    make(map[string]*mapping.TaskMapping),
		syncLogs:        make(map[string]*syncdom.Log),
		conflicts:       make(map[string]*syncdom.Conflict),
	}
}

func (f *fakeStore) ListConnections(context.Context) ([]connection.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]connection.Connection, 0, len(f.connections))
	for _, c := range f.connections {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) ListEnabledConnections(context.Context) ([]connection.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []connection.Connection
	for _, c := range f.connections {
		if c.SyncEnabled {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeStore) GetConnection(_ context.Context, id string) (*connection.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) CreateConnection(_ context.Context, req connection.CreateRequest) (*connection.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	c := &connection.Connection{
		ID:          uuid.NewString(),
		ToolName:    req.ToolName,
		InstanceURL: req.InstanceURL,
		Credentials: req.Credentials,
		TeamID:      req.TeamID,
		WorkspaceID: req.WorkspaceID,
		SyncEnabled: req.SyncEnabled,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.connections[c.ID] = c
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateConnection(_ context.Context, conn *connection.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.connections[conn.ID]
	if !ok {
		return fmt.Errorf("connection %s: %w", conn.ID, domain.ErrNotFound)
	}
	cp := *conn
	cp.Version = cur.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	f.connections[conn.ID] = &cp
	return nil
}

func (f *fakeStore) DeleteConnection(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.connections[id]; !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	delete(f.connections, id)
	return nil
}

func (f *fakeStore) SetConnectionSyncState(_ context.Context, id string, at time.Time, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connections[id]
	if !ok {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	c.LastSyncAt = &at
	c.LastSyncStatus = status
	c.LastSyncError = errMsg
	return nil
}

func (f *fakeStore) ListProjects(context.Context) ([]project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]project.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) CreateProject(_ context.Context, req project.CreateRequest) (*project.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	p := &project.Project{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Status:      req.Status,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Owner:       req.Owner,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.projects[p.ID] = p
	cp := *p
	return &cp, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, p *project.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.projects[p.ID]
	if !ok {
		return fmt.Errorf("project %s: %w", p.ID, domain.ErrNotFound)
	}
	cp := *p
	cp.Version = cur.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	f.projects[p.ID] = &cp
	return nil
}

func (f *fakeStore) ListTasks(_ context.Context, projectID string) ([]task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []task.Task
	for _, t := range f.tasks {
		if t.ProjectID == projectID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) CreateTask(_ context.Context, req task.CreateRequest) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	t := &task.Task{
		ID:             uuid.NewString(),
		ProjectID:      req.ProjectID,
		Title:          req.Title,
		Description:    req.Description,
		Status:         req.Status,
		Priority:       req.Priority,
		Assignee:       req.Assignee,
		DueDate:        req.DueDate,
		EstimatedHours: req.EstimatedHours,
		ParentID:       req.ParentID,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (f *fakeStore) UpdateTask(_ context.Context, t *task.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.tasks[t.ID]
	if !ok {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	}
	cp := *t
	cp.Version = cur.Version + 1
	cp.UpdatedAt = time.Now().UTC()
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeStore) ListProjectMappings(_ context.Context, connectionID string) ([]mapping.ProjectMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mapping.ProjectMapping
	for _, m := range f.projectMappings {
		if m.ConnectionID == connectionID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetProjectMapping(_ context.Context, id string) (*mapping.ProjectMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.projectMappings[id]
	if !ok {
		return nil, fmt.Errorf("project mapping %s: %w", id, domain.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeStore) FindProjectMapping(_ context.Context, connectionID, externalProjectID string) (*mapping.ProjectMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.projectMappings {
		if m.ConnectionID == connectionID && m.ExternalProjectID == externalProjectID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindProjectMappingByProject(_ context.Context, connectionID, projectID string) (*mapping.ProjectMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.projectMappings {
		if m.ConnectionID == connectionID && m.ProjectID == projectID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateProjectMapping(_ context.Context, m *mapping.ProjectMapping) (*mapping.ProjectMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	f.projectMappings[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) UpdateProjectMapping(_ context.Context, m *mapping.ProjectMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projectMappings[m.ID]; !ok {
		return fmt.Errorf("project mapping %s: %w", m.ID, domain.ErrNotFound)
	}
	cp := *m
	f.projectMappings[m.ID] = &cp
	return nil
}

func (f *fakeStore) ListTaskMappings(_ context.Context, projectMappingID string) ([]mapping.TaskMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mapping.TaskMapping
	for _, m := range f.taskMappings {
		if m.ProjectMappingID == projectMappingID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) FindTaskMapping(_ context.Context, projectMappingID, externalTaskID string) (*mapping.TaskMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.taskMappings {
		if m.ProjectMappingID == projectMappingID && m.ExternalTaskID == externalTaskID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) FindTaskMappingByTask(_ context.Context, projectMappingID, taskID string) (*mapping.TaskMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.taskMappings {
		if m.ProjectMappingID == projectMappingID && m.TaskID == taskID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListTaskMappingsForTask(_ context.Context, taskID string) ([]mapping.TaskMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mapping.TaskMapping
	for _, m := range f.taskMappings {
		if m.TaskID == taskID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateTaskMapping(_ context.Context, m *mapping.TaskMapping) (*mapping.TaskMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *m
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	f.taskMappings[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) UpdateTaskMapping(_ context.Context, m *mapping.TaskMapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.taskMappings[m.ID]; !ok {
		return fmt.Errorf("task mapping %s: %w", m.ID, domain.ErrNotFound)
	}
	cp := *m
	f.taskMappings[m.ID] = &cp
	return nil
}

func (f *fakeStore) CreateSyncLog(_ context.Context, l *syncdom.Log) (*syncdom.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *l
	cp.ID = uuid.NewString()
	cp.Status = syncdom.StatusRunning
	cp.StartedAt = time.Now().UTC()
	f.syncLogs[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) FinishSyncLog(_ context.Context, l *syncdom.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.syncLogs[l.ID]
	if !ok {
		return fmt.Errorf("sync log %s: %w", l.ID, domain.ErrNotFound)
	}
	if cur.Status != syncdom.StatusRunning {
		return fmt.Errorf("sync log %s finished twice", l.ID)
	}
	now := time.Now().UTC()
	cp := *l
	cp.FinishedAt = &now
	f.syncLogs[l.ID] = &cp
	return nil
}

func (f *fakeStore) ListRecentSyncLogs(_ context.Context, connectionID string, limit int) ([]syncdom.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []syncdom.Log
	for _, l := range f.syncLogs {
		if connectionID != "" && l.ConnectionID != connectionID {
			continue
		}
		out = append(out, *l)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CountRunningSyncLogs(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.syncLogs {
		if l.Status == syncdom.StatusRunning {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateConflict(_ context.Context, c *syncdom.Conflict) (*syncdom.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	cp.ID = uuid.NewString()
	cp.Status = syncdom.ConflictPending
	cp.CreatedAt = time.Now().UTC()
	f.conflicts[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) GetConflict(_ context.Context, id string) (*syncdom.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conflicts[id]
	if !ok {
		return nil, fmt.Errorf("conflict %s: %w", id, domain.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) ListConflicts(_ context.Context, connectionID string, status syncdom.ConflictStatus) ([]syncdom.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []syncdom.Conflict
	for _, c := range f.conflicts {
		if connectionID != "" && c.ConnectionID != connectionID {
			continue
		}
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) UpdateConflict(_ context.Context, c *syncdom.Conflict) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.conflicts[c.ID]; !ok {
		return fmt.Errorf("conflict %s: %w", c.ID, domain.ErrNotFound)
	}
	cp := *c
	f.conflicts[c.ID] = &cp
	return nil
}

// --- fake tool adapter ---

// fakeAdapter is a scriptable pmtool.Adapter. Tests set its projects and
// tasks maps and inspect the recorded calls.
type fakeAdapter struct {
	mu sync.Mutex

	caps          pmtool.Capabilities
	alive         bool
	listErr       error
	createTaskErr map[string]error // by title
	updateTaskErr map[string]error // by external id
	projects      map[string]*unified.Project
	tasks         map[string]*unified.Task

	createdTasks    []unified.Task
	updatedTasks    []unified.Task
	completedTasks  []string
	createdProjects []unified.Project
	updatedProjects []unified.Project

	nextID int
}

func allCaps() pmtool.Capabilities {
	return pmtool.Capabilities{
		Projects:      true,
		Tasks:         true,
		CreateProject: true,
		UpdateProject: true,
		CreateTask:    true,
		UpdateTask:    true,
		CompleteTask:  true,
	}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		caps:          allCaps(),
		alive:         true,
		createTaskErr: make(map[string]error),
		updateTaskErr: make(map[string]error),
		projects:      make(map[string]*unified.Project),
		tasks:         make(map[string]*unified.Task),
	}
}

func (a *fakeAdapter) id(prefix string) string {
	a.nextID++
	return fmt.Sprintf("%s-%d", prefix, a.nextID)
}

func (a *fakeAdapter) Name() string                        { return "faketool" }
func (a *fakeAdapter) Capabilities() pmtool.Capabilities   { return a.caps }
func (a *fakeAdapter) TestConnection(context.Context) bool { return a.alive }

func (a *fakeAdapter) ListProjects(context.Context) ([]unified.Project, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	out := make([]unified.Project, 0, len(a.projects))
	for _, p := range a.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (a *fakeAdapter) GetProject(_ context.Context, externalID string) (*unified.Project, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.projects[externalID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (a *fakeAdapter) CreateProject(_ context.Context, p *unified.Project) (*unified.Project, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *p
	cp.ExternalID = a.id("proj")
	cp.URL = "https://faketool.test/projects/" + cp.ExternalID
	a.projects[cp.ExternalID] = &cp
	a.createdProjects = append(a.createdProjects, cp)
	out := cp
	return &out, nil
}

func (a *fakeAdapter) UpdateProject(_ context.Context, p *unified.Project) (*unified.Project, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur, ok := a.projects[p.ExternalID]
	if !ok {
		return nil, fmt.Errorf("project %s not found", p.ExternalID)
	}
	cp := *p
	cp.URL = cur.URL
	a.projects[p.ExternalID] = &cp
	a.updatedProjects = append(a.updatedProjects, cp)
	out := cp
	return &out, nil
}

func (a *fakeAdapter) ListTasks(_ context.Context, externalProjectID string) ([]unified.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	var out []unified.Task
	for _, t := range a.tasks {
		if t.ProjectExternalID == externalProjectID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (a *fakeAdapter) GetTask(_ context.Context, _, externalID string) (*unified.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[externalID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (a *fakeAdapter) CreateTask(_ context.Context, t *unified.Task) (*unified.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.createTaskErr[t.Title]; err != nil {
		return nil, err
	}
	cp := *t
	cp.ExternalID = a.id("task")
	cp.URL = "https://faketool.test/tasks/" + cp.ExternalID
	a.tasks[cp.ExternalID] = &cp
	a.createdTasks = append(a.createdTasks, cp)
	out := cp
	return &out, nil
}

func (a *fakeAdapter) UpdateTask(_ context.Context, t *unified.Task) (*unified.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.updateTaskErr[t.ExternalID]; err != nil {
		return nil, err
	}
	cur, ok := a.tasks[t.ExternalID]
	if !ok {
		return nil, fmt.Errorf("task %s not found", t.ExternalID)
	}
	cp := *t
	cp.URL = cur.URL
	a.tasks[t.ExternalID] = &cp
	a.updatedTasks = append(a.updatedTasks, cp)
	out := cp
	return &out, nil
}

func (a *fakeAdapter) CompleteTask(_ context.Context, _, externalID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completedTasks = append(a.completedTasks, externalID)
	t, ok := a.tasks[externalID]
	if !ok {
		return false, nil
	}
	t.Status = unified.TaskDone
	return true, nil
}

var _ pmtool.Adapter = (*fakeAdapter)(nil)

// currentFake is handed out by the registered factory, so each test swaps in
// its own scripted adapter before building the engine.
var (
	currentFakeMu sync.Mutex
	currentFake   *fakeAdapter
)

func setCurrentFake(a *fakeAdapter) {
	currentFakeMu.Lock()
	defer currentFakeMu.Unlock()
	currentFake = a
}

func init() {
	pmtool.Register("faketool", func(*connection.Connection) (pmtool.Adapter, error) {
		currentFakeMu.Lock()
		defer currentFakeMu.Unlock()
		if currentFake == nil {
			return nil, fmt.Errorf("no fake adapter configured")
		}
		return currentFake, nil
	})
}
