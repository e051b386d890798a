package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/planwright/planwright/internal/types"
)

// CreateHandoff inserts a new handoff record
func (s *SQLiteStorage) CreateHandoff(ctx context.Context, handoff *types.Handoff) error {
	if err := handoff.Validate(); err != nil {
		return fmt.Errorf("invalid handoff: %w", err)
	}
	now := time.Now().UTC()
	if handoff.CreatedAt.IsZero() {
		handoff.CreatedAt = now
	}
	handoff.UpdatedAt = now

	payload := "{}"
	if len(handoff.Payload) > 0 {
		payload = string(handoff.Payload)
	}
	deps, err := json.Marshal(handoff.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to marshal handoff dependencies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO handoffs (id, run_id, from_phase, to_phase, status, artifact_id, payload, instructions, dependencies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		handoff.ID, handoff.RunID, handoff.FromPhase, handoff.ToPhase, handoff.Status,
		handoff.ArtifactID, payload, handoff.Instructions, string(deps),
		epoch(handoff.CreatedAt), epoch(handoff.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create handoff for run %s: %w", handoff.RunID, err)
	}
	return nil
}

const handoffColumns = `id, run_id, from_phase, to_phase, status, artifact_id, payload, instructions, dependencies, created_at, updated_at`

func scanHandoff(scan func(dest ...interface{}) error) (*types.Handoff, error) {
	var h types.Handoff
	var payload, deps string
	var created, updated int64
	err := scan(&h.ID, &h.RunID, &h.FromPhase, &h.ToPhase, &h.Status, &h.ArtifactID,
		&payload, &h.Instructions, &deps, &created, &updated)
	if err != nil {
		return nil, err
	}
	h.Payload = json.RawMessage(payload)
	if err := json.Unmarshal([]byte(deps), &h.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handoff dependencies: %w", err)
	}
	h.CreatedAt = fromEpoch(created)
	h.UpdatedAt = fromEpoch(updated)
	return &h, nil
}

// GetHandoff retrieves a handoff by id
func (s *SQLiteStorage) GetHandoff(ctx context.Context, id string) (*types.Handoff, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+handoffColumns+` FROM handoffs WHERE id = ?`, id)
	h, err := scanHandoff(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("handoff %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get handoff %s: %w", id, err)
	}
	return h, nil
}

// UpdateHandoffStatus transitions a handoff. Terminal handoffs (completed or
// rejected) are never transitioned again; a rejected handoff must be replaced
// by a new one after revision.
func (s *SQLiteStorage) UpdateHandoffStatus(ctx context.Context, id string, status types.HandoffStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid handoff status: %s", status)
	}
	current, err := s.GetHandoff(ctx, id)
	if err != nil {
		return err
	}
	if current.Status.IsTerminal() {
		return fmt.Errorf("handoff %s is terminal (%s) and cannot transition to %s", id, current.Status, status)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE handoffs SET status = ?, updated_at = ? WHERE id = ?`,
		status, epoch(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update handoff %s: %w", id, err)
	}
	return nil
}

// ListHandoffs retrieves all handoffs for a run, oldest first
func (s *SQLiteStorage) ListHandoffs(ctx context.Context, runID string) ([]*types.Handoff, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+handoffColumns+` FROM handoffs WHERE run_id = ? ORDER BY created_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list handoffs for run %s: %w", runID, err)
	}
	defer rows.Close()

	var handoffs []*types.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan handoff: %w", err)
		}
		handoffs = append(handoffs, h)
	}
	return handoffs, rows.Err()
}
