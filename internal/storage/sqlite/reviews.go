package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/planwright/planwright/internal/types"
)

// CreateReview inserts one immutable operator review row
func (s *SQLiteStorage) CreateReview(ctx context.Context, review *types.OperatorReview) error {
	if err := review.Validate(); err != nil {
		return fmt.Errorf("invalid review: %w", err)
	}
	if review.CreatedAt.IsZero() {
		review.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operator_reviews (id, decision_id, operator_id, operator_role, action, confidence, feedback, revision_instructions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		review.ID, review.DecisionID, review.OperatorID, review.OperatorRole,
		review.Action, review.Confidence, review.Feedback, review.RevisionInstructions,
		epoch(review.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create review for decision %s: %w", review.DecisionID, err)
	}
	return nil
}

// ListReviews retrieves all reviews for a decision, oldest first
func (s *SQLiteStorage) ListReviews(ctx context.Context, decisionID string) ([]*types.OperatorReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, decision_id, operator_id, operator_role, action, confidence, feedback, revision_instructions, created_at
		FROM operator_reviews WHERE decision_id = ? ORDER BY created_at, rowid`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for decision %s: %w", decisionID, err)
	}
	defer rows.Close()

	var reviews []*types.OperatorReview
	for rows.Next() {
		var r types.OperatorReview
		var created int64
		if err := rows.Scan(&r.ID, &r.DecisionID, &r.OperatorID, &r.OperatorRole,
			&r.Action, &r.Confidence, &r.Feedback, &r.RevisionInstructions, &created); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		r.CreatedAt = fromEpoch(created)
		reviews = append(reviews, &r)
	}
	return reviews, rows.Err()
}

// CreateEscalation inserts a new escalation
func (s *SQLiteStorage) CreateEscalation(ctx context.Context, esc *types.Escalation) error {
	if err := esc.Validate(); err != nil {
		return fmt.Errorf("invalid escalation: %w", err)
	}
	if esc.CreatedAt.IsZero() {
		esc.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (id, decision_id, from_operator_id, to_supervisor_id, reason, priority, status, resolution, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		esc.ID, esc.DecisionID, esc.FromOperatorID, esc.ToSupervisorID,
		esc.Reason, esc.Priority, esc.Status, esc.Resolution,
		epoch(esc.CreatedAt), nullableEpoch(esc.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create escalation for decision %s: %w", esc.DecisionID, err)
	}
	return nil
}

const escalationColumns = `id, decision_id, from_operator_id, to_supervisor_id, reason, priority, status, resolution, created_at, resolved_at`

func scanEscalation(scan func(dest ...interface{}) error) (*types.Escalation, error) {
	var e types.Escalation
	var created int64
	var resolved sql.NullInt64
	err := scan(&e.ID, &e.DecisionID, &e.FromOperatorID, &e.ToSupervisorID,
		&e.Reason, &e.Priority, &e.Status, &e.Resolution, &created, &resolved)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = fromEpoch(created)
	e.ResolvedAt = fromNullableEpoch(resolved)
	return &e, nil
}

// GetEscalation retrieves an escalation by id
func (s *SQLiteStorage) GetEscalation(ctx context.Context, id string) (*types.Escalation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = ?`, id)
	e, err := scanEscalation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get escalation %s: %w", id, err)
	}
	return e, nil
}

var escalationColumnsMutable = map[string]bool{
	"status":           true,
	"resolution":       true,
	"resolved_at":      true,
	"to_supervisor_id": true,
}

// UpdateEscalation applies a partial update to an escalation
func (s *SQLiteStorage) UpdateEscalation(ctx context.Context, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	var sets []string
	var args []interface{}
	for col, val := range updates {
		if !escalationColumnsMutable[col] {
			return fmt.Errorf("cannot update escalation column %q", col)
		}
		sets = append(sets, col+" = ?")
		args = append(args, val)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		"UPDATE escalations SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update escalation %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("escalation %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListEscalations retrieves escalations, optionally filtered by status, newest first
func (s *SQLiteStorage) ListEscalations(ctx context.Context, status types.EscalationStatus) ([]*types.Escalation, error) {
	query := `SELECT ` + escalationColumns + ` FROM escalations`
	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	var escalations []*types.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}

// CreateUser inserts a user with a role
func (s *SQLiteStorage) CreateUser(ctx context.Context, user *types.User) error {
	if !user.Role.IsValid() {
		return fmt.Errorf("invalid role: %s", user.Role)
	}
	if user.TenantID == "" {
		user.TenantID = "default"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, role, tenant_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Role, user.TenantID, epoch(user.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// GetUser retrieves a user by id
func (s *SQLiteStorage) GetUser(ctx context.Context, id string) (*types.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, tenant_id, created_at FROM users WHERE id = ?`, id)
	var u types.User
	var created int64
	err := row.Scan(&u.ID, &u.Name, &u.Role, &u.TenantID, &created)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	u.CreatedAt = fromEpoch(created)
	return &u, nil
}
