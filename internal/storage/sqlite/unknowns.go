package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/planwright/planwright/internal/types"
)

// CreateUnknown inserts a new unknown
func (s *SQLiteStorage) CreateUnknown(ctx context.Context, unknown *types.Unknown) error {
	if err := unknown.Validate(); err != nil {
		return fmt.Errorf("invalid unknown: %w", err)
	}
	if unknown.CreatedAt.IsZero() {
		unknown.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unknowns (id, run_id, phase_discovered, category, priority, status, question, context,
			assumptions, answer, confidence, answered_in_phase, answered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		unknown.ID, unknown.RunID, unknown.PhaseDiscovered, unknown.Category,
		unknown.Priority, unknown.Status, unknown.Question, unknown.Context,
		unknown.Assumptions, unknown.Answer, unknown.Confidence,
		string(unknown.AnsweredInPhase), nullableEpoch(unknown.AnsweredAt), epoch(unknown.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create unknown for run %s: %w", unknown.RunID, err)
	}
	return nil
}

const unknownColumns = `id, run_id, phase_discovered, category, priority, status, question, context,
	assumptions, answer, confidence, answered_in_phase, answered_at, created_at`

func scanUnknown(scan func(dest ...interface{}) error) (*types.Unknown, error) {
	var u types.Unknown
	var answeredIn string
	var answeredAt sql.NullInt64
	var created int64
	err := scan(&u.ID, &u.RunID, &u.PhaseDiscovered, &u.Category, &u.Priority, &u.Status,
		&u.Question, &u.Context, &u.Assumptions, &u.Answer, &u.Confidence,
		&answeredIn, &answeredAt, &created)
	if err != nil {
		return nil, err
	}
	u.AnsweredInPhase = types.Phase(answeredIn)
	u.AnsweredAt = fromNullableEpoch(answeredAt)
	u.CreatedAt = fromEpoch(created)
	return &u, nil
}

// GetUnknown retrieves an unknown by id
func (s *SQLiteStorage) GetUnknown(ctx context.Context, id string) (*types.Unknown, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+unknownColumns+` FROM unknowns WHERE id = ?`, id)
	u, err := scanUnknown(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unknown %s: %w", id, err)
	}
	return u, nil
}

// unknownColumnsMutable are the fields the resolution workflow may change.
// Unknowns are never deleted.
var unknownColumnsMutable = map[string]bool{
	"status":            true,
	"answer":            true,
	"confidence":        true,
	"answered_in_phase": true,
	"answered_at":       true,
	"assumptions":       true,
}

// UpdateUnknown applies a partial update to an unknown
func (s *SQLiteStorage) UpdateUnknown(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	var sets []string
	var args []interface{}
	for col, val := range updates {
		if !unknownColumnsMutable[col] {
			return fmt.Errorf("cannot update unknown column %q", col)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE unknowns SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update unknown %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("unknown %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListUnknowns retrieves unknowns matching the filter, newest first
func (s *SQLiteStorage) ListUnknowns(ctx context.Context, filter types.UnknownFilter) ([]*types.Unknown, error) {
	query := `SELECT ` + unknownColumns + ` FROM unknowns WHERE 1=1`
	var args []interface{}
	if filter.RunID != "" {
		query += " AND run_id = ?"
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.BlockingOnly {
		query += " AND priority IN ('critical', 'high')"
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unknowns: %w", err)
	}
	defer rows.Close()

	var unknowns []*types.Unknown
	for rows.Next() {
		u, err := scanUnknown(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unknown: %w", err)
		}
		unknowns = append(unknowns, u)
	}
	return unknowns, rows.Err()
}

// CreateResolution inserts a resolution workflow. The partial unique index on
// in_progress resolutions enforces at most one active resolution per unknown.
func (s *SQLiteStorage) CreateResolution(ctx context.Context, res *types.UnknownResolution) error {
	if res.UnknownID == "" {
		return fmt.Errorf("unknown_id is required")
	}
	if res.StartedAt.IsZero() {
		res.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unknown_resolutions (id, unknown_id, status, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?)`,
		res.ID, res.UnknownID, res.Status, epoch(res.StartedAt), nullableEpoch(res.CompletedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("unknown %s already has an active resolution: %w", res.UnknownID, err)
		}
		return fmt.Errorf("failed to create resolution for unknown %s: %w", res.UnknownID, err)
	}
	return nil
}

// GetActiveResolution returns the in-progress resolution for an unknown, if any
func (s *SQLiteStorage) GetActiveResolution(ctx context.Context, unknownID string) (*types.UnknownResolution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, unknown_id, status, started_at, completed_at
		FROM unknown_resolutions WHERE unknown_id = ? AND status = 'in_progress'`, unknownID)
	var r types.UnknownResolution
	var started int64
	var completed sql.NullInt64
	err := row.Scan(&r.ID, &r.UnknownID, &r.Status, &started, &completed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active resolution for unknown %s: %w", unknownID, err)
	}
	r.StartedAt = fromEpoch(started)
	r.CompletedAt = fromNullableEpoch(completed)
	return &r, nil
}

var resolutionColumnsMutable = map[string]bool{
	"status":       true,
	"completed_at": true,
}

// UpdateResolution applies a partial update to a resolution workflow
func (s *SQLiteStorage) UpdateResolution(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	var sets []string
	var args []interface{}
	for col, val := range updates {
		if !resolutionColumnsMutable[col] {
			return fmt.Errorf("cannot update resolution column %q", col)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE unknown_resolutions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update resolution %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("resolution %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddResolutionStep appends an investigative step to a resolution
func (s *SQLiteStorage) AddResolutionStep(ctx context.Context, step *types.ResolutionStep) error {
	if err := step.Validate(); err != nil {
		return fmt.Errorf("invalid resolution step: %w", err)
	}
	if step.CompletedAt.IsZero() {
		step.CompletedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolution_steps (id, workflow_id, phase, action, result, confidence, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.WorkflowID, string(step.Phase), step.Action, step.Result,
		step.Confidence, epoch(step.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add resolution step to workflow %s: %w", step.WorkflowID, err)
	}
	return nil
}

// GetResolutionSteps retrieves the append-only step sequence, oldest first
func (s *SQLiteStorage) GetResolutionSteps(ctx context.Context, workflowID string) ([]*types.ResolutionStep, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, phase, action, result, confidence, completed_at
		FROM resolution_steps WHERE workflow_id = ? ORDER BY completed_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to get steps for workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	var steps []*types.ResolutionStep
	for rows.Next() {
		var st types.ResolutionStep
		var phase string
		var completed int64
		if err := rows.Scan(&st.ID, &st.WorkflowID, &phase, &st.Action, &st.Result,
			&st.Confidence, &completed); err != nil {
			return nil, fmt.Errorf("failed to scan resolution step: %w", err)
		}
		st.Phase = types.Phase(phase)
		st.CompletedAt = fromEpoch(completed)
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}
