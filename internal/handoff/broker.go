// Package handoff brokers artifact transfer between consecutive pipeline
// phases. A handoff always targets the successor phase; rejection is terminal
// and revision produces a fresh handoff rather than reopening the old one.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/types"
)

// Broker manages the handoff lifecycle
type Broker struct {
	store  storage.Storage
	ledger *audit.Ledger
}

// NewBroker creates a handoff broker
func NewBroker(store storage.Storage, ledger *audit.Ledger) (*Broker, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	return &Broker{store: store, ledger: ledger}, nil
}

// CreateRequest carries everything needed to open a handoff
type CreateRequest struct {
	RunID        string
	FromPhase    types.Phase
	ArtifactID   string
	Payload      json.RawMessage
	Instructions string
	Dependencies []string
}

// Create opens a pending handoff from the given phase to its pipeline
// successor. The final phase has no successor and cannot hand off.
func (b *Broker) Create(ctx context.Context, req CreateRequest) (*types.Handoff, error) {
	next, ok := req.FromPhase.Next()
	if !ok {
		return nil, fmt.Errorf("phase %s is the final phase and cannot hand off", req.FromPhase)
	}

	run, err := b.store.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", req.RunID, err)
	}
	if run.IsTerminal() {
		return nil, fmt.Errorf("run %s is %s, cannot create handoff", run.ID, run.Status)
	}

	if _, err := b.store.GetArtifact(ctx, req.ArtifactID); err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", req.ArtifactID, err)
	}

	now := time.Now().UTC()
	h := &types.Handoff{
		ID:           uuid.New().String(),
		RunID:        req.RunID,
		FromPhase:    req.FromPhase,
		ToPhase:      next,
		Status:       types.HandoffPending,
		ArtifactID:   req.ArtifactID,
		Payload:      req.Payload,
		Instructions: req.Instructions,
		Dependencies: req.Dependencies,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.store.CreateHandoff(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to create handoff: %w", err)
	}

	_, err = b.ledger.Append(ctx, run.TenantID, audit.EventHandoffCreated, map[string]interface{}{
		"handoff_id":  h.ID,
		"run_id":      h.RunID,
		"from_phase":  h.FromPhase,
		"to_phase":    h.ToPhase,
		"artifact_id": h.ArtifactID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit handoff creation: %w", err)
	}
	return h, nil
}

// Accept marks a pending handoff as accepted by the receiving phase
func (b *Broker) Accept(ctx context.Context, id string) error {
	return b.transition(ctx, id, types.HandoffPending, types.HandoffAccepted, audit.EventHandoffAccepted, "")
}

// Complete marks an accepted handoff as completed. Completed is terminal.
func (b *Broker) Complete(ctx context.Context, id string) error {
	return b.transition(ctx, id, types.HandoffAccepted, types.HandoffComplete, audit.EventHandoffCompleted, "")
}

// Reject terminally rejects a handoff with a reason. The sending phase must
// revise and open a new handoff.
func (b *Broker) Reject(ctx context.Context, id, reason string) error {
	h, err := b.store.GetHandoff(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load handoff %s: %w", id, err)
	}
	if h.Status.IsTerminal() {
		return fmt.Errorf("handoff %s is already %s", id, h.Status)
	}
	return b.transition(ctx, id, h.Status, types.HandoffRejected, audit.EventHandoffRejected, reason)
}

func (b *Broker) transition(ctx context.Context, id string, from, to types.HandoffStatus, event audit.EventType, reason string) error {
	h, err := b.store.GetHandoff(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load handoff %s: %w", id, err)
	}
	if h.Status != from {
		return fmt.Errorf("handoff %s is %s, expected %s", id, h.Status, from)
	}
	run, err := b.store.GetRun(ctx, h.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", h.RunID, err)
	}

	if err := b.store.UpdateHandoffStatus(ctx, id, to); err != nil {
		return fmt.Errorf("failed to transition handoff %s to %s: %w", id, to, err)
	}

	payload := map[string]interface{}{
		"handoff_id": id,
		"run_id":     h.RunID,
		"from_phase": h.FromPhase,
		"to_phase":   h.ToPhase,
	}
	if reason != "" {
		payload["reason"] = reason
	}
	if _, err := b.ledger.Append(ctx, run.TenantID, event, payload); err != nil {
		return fmt.Errorf("failed to audit handoff transition: %w", err)
	}
	return nil
}

// Pending returns the run's handoffs still awaiting acceptance
func (b *Broker) Pending(ctx context.Context, runID string) ([]*types.Handoff, error) {
	all, err := b.store.ListHandoffs(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list handoffs for run %s: %w", runID, err)
	}
	var pending []*types.Handoff
	for _, h := range all {
		if h.Status == types.HandoffPending {
			pending = append(pending, h)
		}
	}
	return pending, nil
}
