package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/planwright/planwright/internal/types"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = fmt.Errorf("not found")

// CreateRun inserts a new run
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, idea, refined_idea, status, current_phase, pivot_count, mode, tenant_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Idea, run.RefinedIdea, run.Status, run.CurrentPhase,
		run.PivotCount, run.Mode, run.TenantID, epoch(run.CreatedAt), epoch(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun retrieves a run by id
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, idea, refined_idea, status, current_phase, pivot_count, mode, tenant_id, created_at, updated_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

func scanRun(row *sql.Row) (*types.Run, error) {
	var r types.Run
	var created, updated int64
	err := row.Scan(&r.ID, &r.Idea, &r.RefinedIdea, &r.Status, &r.CurrentPhase,
		&r.PivotCount, &r.Mode, &r.TenantID, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	r.CreatedAt = fromEpoch(created)
	r.UpdatedAt = fromEpoch(updated)
	return &r, nil
}

// runColumns are the run fields that UpdateRun accepts
var runColumns = map[string]bool{
	"refined_idea":  true,
	"status":        true,
	"current_phase": true,
	"pivot_count":   true,
	"mode":          true,
}

// UpdateRun applies a partial update to a run
func (s *SQLiteStorage) UpdateRun(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	var sets []string
	var args []interface{}
	for col, val := range updates {
		if !runColumns[col] {
			return fmt.Errorf("cannot update run column %q", col)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, epoch(time.Now().UTC()))
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE runs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of run %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListRuns retrieves runs matching the filter, newest first
func (s *SQLiteStorage) ListRuns(ctx context.Context, filter types.RunFilter) ([]*types.Run, error) {
	query := `
		SELECT id, idea, refined_idea, status, current_phase, pivot_count, mode, tenant_id, created_at, updated_at
		FROM runs WHERE 1=1`
	var args []interface{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, filter.TenantID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*types.Run
	for rows.Next() {
		var r types.Run
		var created, updated int64
		if err := rows.Scan(&r.ID, &r.Idea, &r.RefinedIdea, &r.Status, &r.CurrentPhase,
			&r.PivotCount, &r.Mode, &r.TenantID, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.CreatedAt = fromEpoch(created)
		r.UpdatedAt = fromEpoch(updated)
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}
