// Package review records operator decisions on phase artifacts and routes
// disagreements to supervisors. Every attempted action, allowed or denied,
// lands in the operator audit log; every state change also lands in the
// hash chain.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/auth"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/types"
)

// Manager coordinates operator reviews and escalations
type Manager struct {
	store  storage.Storage
	ledger *audit.Ledger
}

// NewManager creates a review manager
func NewManager(store storage.Storage, ledger *audit.Ledger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	return &Manager{store: store, ledger: ledger}, nil
}

// Request is one operator action on an artifact under review
type Request struct {
	ArtifactID           string
	Action               types.ReviewAction
	Confidence           int
	Feedback             string
	RevisionInstructions string
	EscalationReason     string
	EscalationPriority   types.EscalationPriority
}

var actionPerms = map[types.ReviewAction]auth.Permission{
	types.ActionApprove:  auth.PermReviewApprove,
	types.ActionReject:   auth.PermReviewReject,
	types.ActionRevise:   auth.PermReviewRevise,
	types.ActionEscalate: auth.PermEscalate,
}

// Review applies one operator action to an artifact. Permission is checked
// before any state changes; denied attempts are recorded in the operator log
// with Success=false and no chain entry is written.
func (m *Manager) Review(ctx context.Context, actor auth.Principal, req Request) (*types.OperatorReview, error) {
	perm, ok := actionPerms[req.Action]
	if !ok {
		return nil, fmt.Errorf("invalid review action: %s", req.Action)
	}

	artifact, err := m.store.GetArtifact(ctx, req.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", req.ArtifactID, err)
	}
	run, err := m.store.GetRun(ctx, artifact.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", artifact.RunID, err)
	}

	if err := auth.Require(actor.Role, perm); err != nil {
		m.logAttempt(ctx, actor, string(perm), req.ArtifactID, false, err.Error())
		return nil, fmt.Errorf("review %s on artifact %s: %w", req.Action, req.ArtifactID, err)
	}

	review := &types.OperatorReview{
		ID:                   uuid.New().String(),
		DecisionID:           req.ArtifactID,
		OperatorID:           actor.UserID,
		OperatorRole:         actor.Role,
		Action:               req.Action,
		Confidence:           req.Confidence,
		Feedback:             req.Feedback,
		RevisionInstructions: req.RevisionInstructions,
		CreatedAt:            time.Now().UTC(),
	}
	if err := review.Validate(); err != nil {
		return nil, fmt.Errorf("invalid review: %w", err)
	}
	if err := m.store.CreateReview(ctx, review); err != nil {
		return nil, fmt.Errorf("failed to record review: %w", err)
	}

	verdict := verdictFor(req.Action)
	if verdict != "" {
		if err := m.store.SetArtifactVerdict(ctx, req.ArtifactID, verdict, artifact.ReviewIteration+1); err != nil {
			return nil, fmt.Errorf("failed to set artifact verdict: %w", err)
		}
	}

	if req.Action == types.ActionEscalate {
		if _, err := m.createEscalation(ctx, actor, run.TenantID, req); err != nil {
			return nil, err
		}
	}

	_, err = m.ledger.Append(ctx, run.TenantID, audit.EventReviewRecorded, map[string]interface{}{
		"review_id":   review.ID,
		"artifact_id": req.ArtifactID,
		"run_id":      run.ID,
		"action":      req.Action,
		"operator_id": actor.UserID,
		"confidence":  req.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit review: %w", err)
	}
	m.logAttempt(ctx, actor, string(perm), req.ArtifactID, true, "")

	return review, nil
}

// OverrideScore records a manual score on top of the automated one. The
// automated row is never touched; the override is an additional hybrid row
// and becomes the artifact's effective score.
func (m *Manager) OverrideScore(ctx context.Context, actor auth.Principal, artifactID string, overall int, feedback string) (*types.QualityScore, error) {
	artifact, err := m.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", artifactID, err)
	}
	run, err := m.store.GetRun(ctx, artifact.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", artifact.RunID, err)
	}

	if err := auth.Require(actor.Role, auth.PermScoreOverride); err != nil {
		m.logAttempt(ctx, actor, string(auth.PermScoreOverride), artifactID, false, err.Error())
		return nil, fmt.Errorf("score override on artifact %s: %w", artifactID, err)
	}

	score := &types.QualityScore{
		ID:          uuid.New().String(),
		ArtifactID:  artifactID,
		RunID:       run.ID,
		Phase:       artifact.Phase,
		Overall:     overall,
		Evaluator:   types.EvaluatorHybrid,
		EvaluatorID: actor.UserID,
		CreatedAt:   time.Now().UTC(),
	}
	if feedback != "" {
		score.Dimensions = []types.DimensionScore{{Dimension: "override", Score: overall, Feedback: feedback}}
	}
	if err := score.Validate(); err != nil {
		return nil, fmt.Errorf("invalid score override: %w", err)
	}
	if err := m.store.CreateScore(ctx, score); err != nil {
		return nil, fmt.Errorf("failed to record score override: %w", err)
	}
	if err := m.store.SetArtifactScore(ctx, artifactID, overall); err != nil {
		return nil, fmt.Errorf("failed to update artifact score: %w", err)
	}

	_, err = m.ledger.Append(ctx, run.TenantID, audit.EventScoreOverridden, map[string]interface{}{
		"artifact_id": artifactID,
		"run_id":      run.ID,
		"overall":     overall,
		"operator_id": actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit score override: %w", err)
	}
	m.logAttempt(ctx, actor, string(auth.PermScoreOverride), artifactID, true, "")

	return score, nil
}

// TakeEscalation claims a pending escalation for review, recording which
// supervisor owns the decision. Resolution can follow from either state, but
// taking first signals other supervisors to stay off it.
func (m *Manager) TakeEscalation(ctx context.Context, actor auth.Principal, escalationID string) error {
	esc, err := m.store.GetEscalation(ctx, escalationID)
	if err != nil {
		return fmt.Errorf("failed to load escalation %s: %w", escalationID, err)
	}
	if esc.Status != types.EscalationPending {
		return fmt.Errorf("escalation %s is %s, only pending escalations can be taken", escalationID, esc.Status)
	}

	if err := auth.Require(actor.Role, auth.PermEscalationResolve); err != nil {
		m.logAttempt(ctx, actor, string(auth.PermEscalationResolve), escalationID, false, err.Error())
		return fmt.Errorf("take escalation %s: %w", escalationID, err)
	}

	err = m.store.UpdateEscalation(ctx, escalationID, map[string]interface{}{
		"status":           string(types.EscalationInReview),
		"to_supervisor_id": actor.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to take escalation %s: %w", escalationID, err)
	}

	_, err = m.ledger.Append(ctx, actor.TenantID, audit.EventEscalationUpdated, map[string]interface{}{
		"escalation_id": escalationID,
		"decision_id":   esc.DecisionID,
		"status":        types.EscalationInReview,
		"supervisor_id": actor.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to audit escalation update: %w", err)
	}
	m.logAttempt(ctx, actor, string(auth.PermEscalationResolve), escalationID, true, "")

	return nil
}

// ResolveEscalation closes an escalation with a resolution note. Only
// supervisors and admins hold the permission; the original operator cannot
// resolve their own escalation path.
func (m *Manager) ResolveEscalation(ctx context.Context, actor auth.Principal, escalationID, resolution string, accept bool) error {
	if strings.TrimSpace(resolution) == "" {
		return fmt.Errorf("resolution is required")
	}

	esc, err := m.store.GetEscalation(ctx, escalationID)
	if err != nil {
		return fmt.Errorf("failed to load escalation %s: %w", escalationID, err)
	}
	if esc.Status == types.EscalationResolved || esc.Status == types.EscalationRejected {
		return fmt.Errorf("escalation %s is already %s", escalationID, esc.Status)
	}

	if err := auth.Require(actor.Role, auth.PermEscalationResolve); err != nil {
		m.logAttempt(ctx, actor, string(auth.PermEscalationResolve), escalationID, false, err.Error())
		return fmt.Errorf("resolve escalation %s: %w", escalationID, err)
	}

	status := types.EscalationResolved
	if !accept {
		status = types.EscalationRejected
	}
	err = m.store.UpdateEscalation(ctx, escalationID, map[string]interface{}{
		"status":           string(status),
		"resolution":       resolution,
		"resolved_at":      time.Now().UTC().Unix(),
		"to_supervisor_id": actor.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to resolve escalation %s: %w", escalationID, err)
	}

	_, err = m.ledger.Append(ctx, actor.TenantID, audit.EventEscalationResolved, map[string]interface{}{
		"escalation_id": escalationID,
		"decision_id":   esc.DecisionID,
		"status":        status,
		"supervisor_id": actor.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to audit escalation resolution: %w", err)
	}
	m.logAttempt(ctx, actor, string(auth.PermEscalationResolve), escalationID, true, "")

	return nil
}

// AutoEscalate opens a system-raised escalation, used when a run exhausts its
// revision budget without reaching the quality bar.
func (m *Manager) AutoEscalate(ctx context.Context, tenantID, artifactID, reason string, priority types.EscalationPriority) (*types.Escalation, error) {
	esc := &types.Escalation{
		ID:             uuid.New().String(),
		DecisionID:     artifactID,
		FromOperatorID: "system",
		Reason:         reason,
		Priority:       priority,
		Status:         types.EscalationPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := esc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid escalation: %w", err)
	}
	if err := m.store.CreateEscalation(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to create escalation: %w", err)
	}
	_, err := m.ledger.Append(ctx, tenantID, audit.EventEscalationCreated, map[string]interface{}{
		"escalation_id": esc.ID,
		"decision_id":   artifactID,
		"priority":      priority,
		"raised_by":     "system",
		"reason":        reason,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit escalation: %w", err)
	}
	return esc, nil
}

// History returns all reviews recorded against an artifact, oldest first
func (m *Manager) History(ctx context.Context, artifactID string) ([]*types.OperatorReview, error) {
	return m.store.ListReviews(ctx, artifactID)
}

// PendingEscalations lists escalations awaiting supervisor attention
func (m *Manager) PendingEscalations(ctx context.Context) ([]*types.Escalation, error) {
	return m.store.ListEscalations(ctx, types.EscalationPending)
}

func (m *Manager) createEscalation(ctx context.Context, actor auth.Principal, tenantID string, req Request) (*types.Escalation, error) {
	reason := req.EscalationReason
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("escalation reason is required")
	}
	priority := req.EscalationPriority
	if priority == "" {
		priority = types.EscalationMedium
	}
	esc := &types.Escalation{
		ID:             uuid.New().String(),
		DecisionID:     req.ArtifactID,
		FromOperatorID: actor.UserID,
		Reason:         reason,
		Priority:       priority,
		Status:         types.EscalationPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := esc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid escalation: %w", err)
	}
	if err := m.store.CreateEscalation(ctx, esc); err != nil {
		return nil, fmt.Errorf("failed to create escalation: %w", err)
	}
	_, err := m.ledger.Append(ctx, tenantID, audit.EventEscalationCreated, map[string]interface{}{
		"escalation_id": esc.ID,
		"decision_id":   req.ArtifactID,
		"priority":      priority,
		"raised_by":     actor.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit escalation: %w", err)
	}
	return esc, nil
}

func verdictFor(action types.ReviewAction) types.ReviewVerdict {
	switch action {
	case types.ActionApprove:
		return types.VerdictApproved
	case types.ActionReject:
		return types.VerdictRejected
	case types.ActionRevise:
		return types.VerdictRevised
	}
	return ""
}

// logAttempt best-effort records an operator log row. Logging failures do not
// mask the primary operation's outcome.
func (m *Manager) logAttempt(ctx context.Context, actor auth.Principal, action, resourceID string, success bool, errMsg string) {
	entry := &audit.OperatorLogEntry{
		ID:         uuid.New().String(),
		UserID:     actor.UserID,
		TenantID:   actor.TenantID,
		Action:     action,
		Resource:   "artifact",
		ResourceID: resourceID,
		Success:    success,
		Error:      errMsg,
	}
	if err := m.ledger.RecordOperator(ctx, entry); err != nil {
		fmt.Printf("Warning: failed to record operator log for %s: %v\n", action, err)
	}
}
