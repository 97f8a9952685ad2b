package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/connection"
	"github.com/magnus-suite/magnus-sync/internal/domain/project"
	"github.com/magnus-suite/magnus-sync/internal/domain/task"
	"github.com/magnus-suite/magnus-sync/internal/port/database"
)

// Store implements database.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore wraps an established pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Connections ---

const connectionColumns = `id, tool_name, instance_url, credentials, team_id, workspace_id,
	sync_enabled, last_sync_at, last_sync_status, last_sync_error, version, created_at, updated_at`

func scanConnection(row pgx.Row) (*connection.Connection, error) {
	var c connection.Connection
	err := row.Scan(&c.ID, &c.ToolName, &c.InstanceURL, &c.Credentials, &c.TeamID, &c.WorkspaceID,
		&c.SyncEnabled, &c.LastSyncAt, &c.LastSyncStatus, &c.LastSyncError, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListConnections(ctx context.Context) ([]connection.Connection, error) {
	return s.listConnections(ctx, `SELECT `+connectionColumns+` FROM connections ORDER BY created_at`)
}

func (s *Store) ListEnabledConnections(ctx context.Context) ([]connection.Connection, error) {
	return s.listConnections(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE sync_enabled ORDER BY created_at`)
}

func (s *Store) listConnections(ctx context.Context, query string) ([]connection.Connection, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	conns := []connection.Connection{}
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func (s *Store) GetConnection(ctx context.Context, id string) (*connection.Connection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	c, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

func (s *Store) CreateConnection(ctx context.Context, req connection.CreateRequest) (*connection.Connection, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO connections (tool_name, instance_url, credentials, team_id, workspace_id, sync_enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+connectionColumns,
		req.ToolName, req.InstanceURL, req.Credentials, req.TeamID, req.WorkspaceID, req.SyncEnabled)
	c, err := scanConnection(row)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateConnection(ctx context.Context, conn *connection.Connection) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE connections
		SET instance_url = $2, credentials = $3, team_id = $4, workspace_id = $5,
			sync_enabled = $6, version = version + 1, updated_at = now()
		WHERE id = $1`,
		conn.ID, conn.InstanceURL, conn.Credentials, conn.TeamID, conn.WorkspaceID, conn.SyncEnabled)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", conn.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetConnectionSyncState(ctx context.Context, id string, at time.Time, status, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE connections
		SET last_sync_at = $2, last_sync_status = $3, last_sync_error = $4, updated_at = now()
		WHERE id = $1`,
		id, at, status, errMsg)
	if err != nil {
		return fmt.Errorf("set connection sync state: %w", err)
	}
	return nil
}

// --- Canonical projects ---

const projectColumns = `id, name, description, status, start_date, end_date, owner,
	version, created_at, updated_at`

func scanProject(row pgx.Row) (*project.Project, error) {
	var p project.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.StartDate, &p.EndDate, &p.Owner,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []project.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *Store) CreateProject(ctx context.Context, req project.CreateRequest) (*project.Project, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (name, description, status, start_date, end_date, owner)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+projectColumns,
		req.Name, req.Description, req.Status, req.StartDate, req.EndDate, req.Owner)
	p, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE projects
		SET name = $2, description = $3, status = $4, start_date = $5, end_date = $6,
			owner = $7, version = version + 1, updated_at = now()
		WHERE id = $1`,
		p.ID, p.Name, p.Description, p.Status, p.StartDate, p.EndDate, p.Owner)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// --- Canonical tasks ---

const taskColumns = `id, project_id, title, description, status, priority, assignee,
	due_date, estimated_hours, parent_id, version, created_at, updated_at`

func scanTask(row pgx.Row) (*task.Task, error) {
	var t task.Task
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.Status, &t.Priority, &t.Assignee,
		&t.DueDate, &t.EstimatedHours, &t.ParentID, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, projectID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = $1 ORDER BY created_at`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (project_id, title, description, status, priority, assignee,
			due_date, estimated_hours, parent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+taskColumns,
		req.ProjectID, req.Title, req.Description, req.Status, req.Priority, req.Assignee,
		req.DueDate, req.EstimatedHours, req.ParentID)
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, status = $4, priority = $5, assignee = $6,
			due_date = $7, estimated_hours = $8, version = version + 1, updated_at = now()
		WHERE id = $1`,
		t.ID, t.Title, t.Description, t.Status, t.Priority, t.Assignee, t.DueDate, t.EstimatedHours)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrNotFound)
	}
	return nil
}
