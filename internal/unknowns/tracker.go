// Package unknowns tracks knowledge gaps discovered during phase execution
// and drives their resolution workflows. Unknowns are never deleted; they
// move open -> investigating -> answered/deferred, and every transition is
// appended to the audit chain.
package unknowns

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/types"
)

// Tracker manages the unknown lifecycle for all runs
type Tracker struct {
	store  storage.Storage
	ledger *audit.Ledger
}

// NewTracker creates an unknown tracker
func NewTracker(store storage.Storage, ledger *audit.Ledger) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	return &Tracker{store: store, ledger: ledger}, nil
}

// File records a newly discovered unknown against a run. The unknown starts
// open; priority decides whether it soft-blocks phase advancement.
func (t *Tracker) File(ctx context.Context, unknown *types.Unknown) error {
	if unknown.ID == "" {
		unknown.ID = uuid.New().String()
	}
	if unknown.Status == "" {
		unknown.Status = types.UnknownOpen
	}
	if unknown.CreatedAt.IsZero() {
		unknown.CreatedAt = time.Now().UTC()
	}
	if err := unknown.Validate(); err != nil {
		return fmt.Errorf("invalid unknown: %w", err)
	}

	run, err := t.store.GetRun(ctx, unknown.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", unknown.RunID, err)
	}

	if err := t.store.CreateUnknown(ctx, unknown); err != nil {
		return fmt.Errorf("failed to file unknown: %w", err)
	}

	_, err = t.ledger.Append(ctx, run.TenantID, audit.EventUnknownFiled, map[string]interface{}{
		"unknown_id": unknown.ID,
		"run_id":     unknown.RunID,
		"phase":      unknown.PhaseDiscovered,
		"priority":   unknown.Priority,
		"question":   unknown.Question,
	})
	if err != nil {
		return fmt.Errorf("failed to audit unknown filing: %w", err)
	}
	return nil
}

// StartResolution opens an investigation workflow for an unknown and moves it
// to investigating. At most one workflow may be active per unknown; the
// storage layer rejects a second.
func (t *Tracker) StartResolution(ctx context.Context, unknownID string) (*types.UnknownResolution, error) {
	unknown, err := t.store.GetUnknown(ctx, unknownID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unknown %s: %w", unknownID, err)
	}
	if unknown.Status != types.UnknownOpen && unknown.Status != types.UnknownDeferred {
		return nil, fmt.Errorf("unknown %s is %s, cannot start resolution", unknownID, unknown.Status)
	}

	run, err := t.store.GetRun(ctx, unknown.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", unknown.RunID, err)
	}

	res := &types.UnknownResolution{
		ID:        uuid.New().String(),
		UnknownID: unknownID,
		Status:    types.ResolutionInProgress,
		StartedAt: time.Now().UTC(),
	}
	if err := t.store.CreateResolution(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to start resolution for unknown %s: %w", unknownID, err)
	}

	if err := t.store.UpdateUnknown(ctx, unknownID, map[string]interface{}{
		"status": string(types.UnknownInvestigating),
	}); err != nil {
		return nil, fmt.Errorf("failed to mark unknown %s investigating: %w", unknownID, err)
	}

	_, err = t.ledger.Append(ctx, run.TenantID, audit.EventResolutionStarted, map[string]interface{}{
		"unknown_id":  unknownID,
		"workflow_id": res.ID,
		"run_id":      unknown.RunID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit resolution start: %w", err)
	}
	return res, nil
}

// AddStep appends one investigative action to an active resolution workflow.
// Steps are append-only; the step's confidence becomes the unknown's current
// confidence estimate.
func (t *Tracker) AddStep(ctx context.Context, step *types.ResolutionStep) error {
	if step.ID == "" {
		step.ID = uuid.New().String()
	}
	if step.CompletedAt.IsZero() {
		step.CompletedAt = time.Now().UTC()
	}
	if err := step.Validate(); err != nil {
		return fmt.Errorf("invalid resolution step: %w", err)
	}

	unknown, run, err := t.resolveWorkflow(ctx, step.WorkflowID)
	if err != nil {
		return err
	}

	if err := t.store.AddResolutionStep(ctx, step); err != nil {
		return fmt.Errorf("failed to add resolution step: %w", err)
	}
	if err := t.store.UpdateUnknown(ctx, unknown.ID, map[string]interface{}{
		"confidence": step.Confidence,
	}); err != nil {
		return fmt.Errorf("failed to update unknown confidence: %w", err)
	}

	_, err = t.ledger.Append(ctx, run.TenantID, audit.EventResolutionStep, map[string]interface{}{
		"unknown_id":  unknown.ID,
		"workflow_id": step.WorkflowID,
		"action":      step.Action,
		"confidence":  step.Confidence,
	})
	if err != nil {
		return fmt.Errorf("failed to audit resolution step: %w", err)
	}
	return nil
}

// Answer completes an unknown's active resolution with a definitive answer.
// The unknown moves to answered and records the phase that produced the
// answer.
func (t *Tracker) Answer(ctx context.Context, unknownID, answer string, confidence int, answeredIn types.Phase) error {
	if strings.TrimSpace(answer) == "" {
		return fmt.Errorf("answer is required")
	}
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("confidence must be in [0,100] (got %d)", confidence)
	}
	if !answeredIn.IsValid() {
		return fmt.Errorf("invalid phase: %s", answeredIn)
	}

	unknown, err := t.store.GetUnknown(ctx, unknownID)
	if err != nil {
		return fmt.Errorf("failed to load unknown %s: %w", unknownID, err)
	}
	if unknown.Status != types.UnknownInvestigating {
		return fmt.Errorf("unknown %s is %s, expected investigating", unknownID, unknown.Status)
	}
	run, err := t.store.GetRun(ctx, unknown.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", unknown.RunID, err)
	}

	if err := t.closeActiveResolution(ctx, unknownID, types.ResolutionCompleted); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := t.store.UpdateUnknown(ctx, unknownID, map[string]interface{}{
		"status":            string(types.UnknownAnswered),
		"answer":            answer,
		"confidence":        confidence,
		"answered_in_phase": string(answeredIn),
		"answered_at":       now.Unix(),
	}); err != nil {
		return fmt.Errorf("failed to mark unknown %s answered: %w", unknownID, err)
	}

	_, err = t.ledger.Append(ctx, run.TenantID, audit.EventUnknownAnswered, map[string]interface{}{
		"unknown_id":        unknownID,
		"run_id":            unknown.RunID,
		"answered_in_phase": answeredIn,
		"confidence":        confidence,
	})
	if err != nil {
		return fmt.Errorf("failed to audit unknown answer: %w", err)
	}
	return nil
}

// Defer parks an unknown with explicit working assumptions. The active
// resolution, if any, is marked failed. Deferred unknowns no longer block
// advancement but can be re-investigated later.
func (t *Tracker) Defer(ctx context.Context, unknownID, assumptions string) error {
	if strings.TrimSpace(assumptions) == "" {
		return fmt.Errorf("assumptions are required when deferring an unknown")
	}

	unknown, err := t.store.GetUnknown(ctx, unknownID)
	if err != nil {
		return fmt.Errorf("failed to load unknown %s: %w", unknownID, err)
	}
	if unknown.Status == types.UnknownAnswered || unknown.Status == types.UnknownObsolete {
		return fmt.Errorf("unknown %s is %s, cannot defer", unknownID, unknown.Status)
	}
	run, err := t.store.GetRun(ctx, unknown.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", unknown.RunID, err)
	}

	if unknown.Status == types.UnknownInvestigating {
		if err := t.closeActiveResolution(ctx, unknownID, types.ResolutionFailed); err != nil {
			return err
		}
	}

	if err := t.store.UpdateUnknown(ctx, unknownID, map[string]interface{}{
		"status":      string(types.UnknownDeferred),
		"assumptions": assumptions,
	}); err != nil {
		return fmt.Errorf("failed to defer unknown %s: %w", unknownID, err)
	}

	_, err = t.ledger.Append(ctx, run.TenantID, audit.EventUnknownDeferred, map[string]interface{}{
		"unknown_id":  unknownID,
		"run_id":      unknown.RunID,
		"assumptions": assumptions,
	})
	if err != nil {
		return fmt.Errorf("failed to audit unknown deferral: %w", err)
	}
	return nil
}

// Blocking returns the unknowns that currently soft-block advancement for a
// run: critical or high priority, still open or investigating.
func (t *Tracker) Blocking(ctx context.Context, runID string) ([]*types.Unknown, error) {
	all, err := t.store.ListUnknowns(ctx, types.UnknownFilter{
		RunID:        runID,
		BlockingOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unknowns for run %s: %w", runID, err)
	}
	var blocking []*types.Unknown
	for _, u := range all {
		if u.Status == types.UnknownOpen || u.Status == types.UnknownInvestigating {
			blocking = append(blocking, u)
		}
	}
	return blocking, nil
}

// Steps returns the investigation trail for an unknown's given workflow
func (t *Tracker) Steps(ctx context.Context, workflowID string) ([]*types.ResolutionStep, error) {
	return t.store.GetResolutionSteps(ctx, workflowID)
}

func (t *Tracker) closeActiveResolution(ctx context.Context, unknownID string, status types.ResolutionStatus) error {
	res, err := t.store.GetActiveResolution(ctx, unknownID)
	if err != nil {
		return fmt.Errorf("failed to load active resolution for unknown %s: %w", unknownID, err)
	}
	if res == nil {
		return nil
	}
	if err := t.store.UpdateResolution(ctx, res.ID, map[string]interface{}{
		"status":       string(status),
		"completed_at": time.Now().UTC().Unix(),
	}); err != nil {
		return fmt.Errorf("failed to close resolution %s: %w", res.ID, err)
	}
	return nil
}

// resolveWorkflow maps a workflow id back to its unknown and run. The
// workflow must still be in progress.
func (t *Tracker) resolveWorkflow(ctx context.Context, workflowID string) (*types.Unknown, *types.Run, error) {
	unknowns, err := t.store.ListUnknowns(ctx, types.UnknownFilter{Status: types.UnknownInvestigating})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list investigating unknowns: %w", err)
	}
	for _, u := range unknowns {
		res, err := t.store.GetActiveResolution(ctx, u.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load active resolution for unknown %s: %w", u.ID, err)
		}
		if res != nil && res.ID == workflowID {
			run, err := t.store.GetRun(ctx, u.RunID)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to load run %s: %w", u.RunID, err)
			}
			return u, run, nil
		}
	}
	return nil, nil, fmt.Errorf("no active resolution workflow %s", workflowID)
}
