package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	"github.com/magnus-suite/magnus-sync/internal/domain/mapping"
)

// --- Project mappings ---

const projectMappingColumns = `id, connection_id, project_id, external_project_id,
	external_name, external_url, last_sync_hash, last_sync_at, last_sync_status, created_at`

func scanProjectMapping(row pgx.Row) (*mapping.ProjectMapping, error) {
	var m mapping.ProjectMapping
	err := row.Scan(&m.ID, &m.ConnectionID, &m.ProjectID, &m.ExternalProjectID,
		&m.ExternalName, &m.ExternalURL, &m.LastSyncHash, &m.LastSyncAt, &m.LastSyncStatus, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListProjectMappings(ctx context.Context, connectionID string) ([]mapping.ProjectMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectMappingColumns+` FROM project_mappings WHERE connection_id = $1 ORDER BY created_at`,
		connectionID)
	if err != nil {
		return nil, fmt.Errorf("list project mappings: %w", err)
	}
	defer rows.Close()

	mappings := []mapping.ProjectMapping{}
	for rows.Next() {
		m, err := scanProjectMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

func (s *Store) GetProjectMapping(ctx context.Context, id string) (*mapping.ProjectMapping, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectMappingColumns+` FROM project_mappings WHERE id = $1`, id)
	m, err := scanProjectMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project mapping %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project mapping: %w", err)
	}
	return m, nil
}

func (s *Store) FindProjectMapping(ctx context.Context, connectionID, externalProjectID string) (*mapping.ProjectMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectMappingColumns+` FROM project_mappings
		WHERE connection_id = $1 AND external_project_id = $2`,
		connectionID, externalProjectID)
	m, err := scanProjectMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find project mapping: %w", err)
	}
	return m, nil
}

func (s *Store) FindProjectMappingByProject(ctx context.Context, connectionID, projectID string) (*mapping.ProjectMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+projectMappingColumns+` FROM project_mappings
		WHERE connection_id = $1 AND project_id = $2`,
		connectionID, projectID)
	m, err := scanProjectMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find project mapping by project: %w", err)
	}
	return m, nil
}

func (s *Store) CreateProjectMapping(ctx context.Context, m *mapping.ProjectMapping) (*mapping.ProjectMapping, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO project_mappings (connection_id, project_id, external_project_id,
			external_name, external_url, last_sync_hash, last_sync_at, last_sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+projectMappingColumns,
		m.ConnectionID, m.ProjectID, m.ExternalProjectID,
		m.ExternalName, m.ExternalURL, m.LastSyncHash, m.LastSyncAt, m.LastSyncStatus)
	created, err := scanProjectMapping(row)
	if err != nil {
		return nil, fmt.Errorf("create project mapping: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateProjectMapping(ctx context.Context, m *mapping.ProjectMapping) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE project_mappings
		SET external_name = $2, external_url = $3, last_sync_hash = $4,
			last_sync_at = $5, last_sync_status = $6
		WHERE id = $1`,
		m.ID, m.ExternalName, m.ExternalURL, m.LastSyncHash, m.LastSyncAt, m.LastSyncStatus)
	if err != nil {
		return fmt.Errorf("update project mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("project mapping %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}

// --- Task mappings ---

const taskMappingColumns = `id, project_mapping_id, task_id, external_task_id,
	external_url, last_sync_hash, last_sync_at, last_sync_status, created_at`

func scanTaskMapping(row pgx.Row) (*mapping.TaskMapping, error) {
	var m mapping.TaskMapping
	err := row.Scan(&m.ID, &m.ProjectMappingID, &m.TaskID, &m.ExternalTaskID,
		&m.ExternalURL, &m.LastSyncHash, &m.LastSyncAt, &m.LastSyncStatus, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListTaskMappings(ctx context.Context, projectMappingID string) ([]mapping.TaskMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskMappingColumns+` FROM task_mappings WHERE project_mapping_id = $1 ORDER BY created_at`,
		projectMappingID)
	if err != nil {
		return nil, fmt.Errorf("list task mappings: %w", err)
	}
	defer rows.Close()

	mappings := []mapping.TaskMapping{}
	for rows.Next() {
		m, err := scanTaskMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

func (s *Store) FindTaskMapping(ctx context.Context, projectMappingID, externalTaskID string) (*mapping.TaskMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskMappingColumns+` FROM task_mappings
		WHERE project_mapping_id = $1 AND external_task_id = $2`,
		projectMappingID, externalTaskID)
	m, err := scanTaskMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task mapping: %w", err)
	}
	return m, nil
}

func (s *Store) FindTaskMappingByTask(ctx context.Context, projectMappingID, taskID string) (*mapping.TaskMapping, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+taskMappingColumns+` FROM task_mappings
		WHERE project_mapping_id = $1 AND task_id = $2`,
		projectMappingID, taskID)
	m, err := scanTaskMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find task mapping by task: %w", err)
	}
	return m, nil
}

func (s *Store) ListTaskMappingsForTask(ctx context.Context, taskID string) ([]mapping.TaskMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskMappingColumns+` FROM task_mappings WHERE task_id = $1 ORDER BY created_at`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("list task mappings for task: %w", err)
	}
	defer rows.Close()

	mappings := []mapping.TaskMapping{}
	for rows.Next() {
		m, err := scanTaskMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	return mappings, rows.Err()
}

func (s *Store) CreateTaskMapping(ctx context.Context, m *mapping.TaskMapping) (*mapping.TaskMapping, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO task_mappings (project_mapping_id, task_id, external_task_id,
			external_url, last_sync_hash, last_sync_at, last_sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+taskMappingColumns,
		m.ProjectMappingID, m.TaskID, m.ExternalTaskID,
		m.ExternalURL, m.LastSyncHash, m.LastSyncAt, m.LastSyncStatus)
	created, err := scanTaskMapping(row)
	if err != nil {
		return nil, fmt.Errorf("create task mapping: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateTaskMapping(ctx context.Context, m *mapping.TaskMapping) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE task_mappings
		SET external_url = $2, last_sync_hash = $3, last_sync_at = $4, last_sync_status = $5
		WHERE id = $1`,
		m.ID, m.ExternalURL, m.LastSyncHash, m.LastSyncAt, m.LastSyncStatus)
	if err != nil {
		return fmt.Errorf("update task mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task mapping %s: %w", m.ID, domain.ErrNotFound)
	}
	return nil
}
