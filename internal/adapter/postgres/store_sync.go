package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/magnus-suite/magnus-sync/internal/domain"
	syncdom "github.com/magnus-suite/magnus-sync/internal/domain/sync"
)

// --- Sync log ---

const syncLogColumns = `id, connection_id, scope, direction, status, items_synced,
	items_created, items_updated, items_failed, conflicts_detected, error_message,
	started_at, finished_at`

func scanSyncLog(row pgx.Row) (*syncdom.Log, error) {
	var l syncdom.Log
	err := row.Scan(&l.ID, &l.ConnectionID, &l.Scope, &l.Direction, &l.Status, &l.ItemsSynced,
		&l.ItemsCreated, &l.ItemsUpdated, &l.ItemsFailed, &l.ConflictsDetected, &l.ErrorMessage,
		&l.StartedAt, &l.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) CreateSyncLog(ctx context.Context, l *syncdom.Log) (*syncdom.Log, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sync_logs (connection_id, scope, direction, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+syncLogColumns,
		l.ConnectionID, l.Scope, l.Direction, syncdom.StatusRunning)
	created, err := scanSyncLog(row)
	if err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}
	return created, nil
}

// FinishSyncLog writes the run's terminal state and counters. Called exactly
// once per invocation.
func (s *Store) FinishSyncLog(ctx context.Context, l *syncdom.Log) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_logs
		SET status = $2, items_synced = $3, items_created = $4, items_updated = $5,
			items_failed = $6, conflicts_detected = $7, error_message = $8, finished_at = now()
		WHERE id = $1`,
		l.ID, l.Status, l.ItemsSynced, l.ItemsCreated, l.ItemsUpdated,
		l.ItemsFailed, l.ConflictsDetected, l.ErrorMessage)
	if err != nil {
		return fmt.Errorf("finish sync log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sync log %s: %w", l.ID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRecentSyncLogs(ctx context.Context, connectionID string, limit int) ([]syncdom.Log, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs`
	args := []any{limit}
	if connectionID != "" {
		query += ` WHERE connection_id = $2`
		args = append(args, connectionID)
	}
	query += ` ORDER BY started_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	logs := []syncdom.Log{}
	for rows.Next() {
		l, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

func (s *Store) CountRunningSyncLogs(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM sync_logs WHERE status = 'running'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running sync logs: %w", err)
	}
	return count, nil
}

// --- Conflicts ---

const conflictColumns = `id, entity_type, entity_id, connection_id, magnus_data,
	external_data, status, resolution, created_at, resolved_at`

func scanConflict(row pgx.Row) (*syncdom.Conflict, error) {
	var c syncdom.Conflict
	err := row.Scan(&c.ID, &c.EntityType, &c.EntityID, &c.ConnectionID, &c.MagnusData,
		&c.ExternalData, &c.Status, &c.Resolution, &c.CreatedAt, &c.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateConflict(ctx context.Context, c *syncdom.Conflict) (*syncdom.Conflict, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sync_conflicts (entity_type, entity_id, connection_id, magnus_data, external_data, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+conflictColumns,
		c.EntityType, c.EntityID, c.ConnectionID, c.MagnusData, c.ExternalData, syncdom.ConflictPending)
	created, err := scanConflict(row)
	if err != nil {
		return nil, fmt.Errorf("create conflict: %w", err)
	}
	return created, nil
}

func (s *Store) GetConflict(ctx context.Context, id string) (*syncdom.Conflict, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conflictColumns+` FROM sync_conflicts WHERE id = $1`, id)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("conflict %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	return c, nil
}

func (s *Store) ListConflicts(ctx context.Context, connectionID string, status syncdom.ConflictStatus) ([]syncdom.Conflict, error) {
	query := `SELECT ` + conflictColumns + ` FROM sync_conflicts WHERE 1=1`
	args := []any{}
	if connectionID != "" {
		args = append(args, connectionID)
		query += fmt.Sprintf(` AND connection_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []syncdom.Conflict{}
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	return conflicts, rows.Err()
}

func (s *Store) UpdateConflict(ctx context.Context, c *syncdom.Conflict) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_conflicts
		SET status = $2, resolution = $3, resolved_at = $4, magnus_data = $5, external_data = $6
		WHERE id = $1`,
		c.ID, c.Status, c.Resolution, c.ResolvedAt, c.MagnusData, c.ExternalData)
	if err != nil {
		return fmt.Errorf("update conflict: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conflict %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}
