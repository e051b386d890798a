package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/auth"
	"github.com/planwright/planwright/internal/types"
)

// Kill terminates a run irreversibly. Any in-flight generation or retry loop
// observes the cancellation and aborts before its next attempt.
func (p *Pipeline) Kill(ctx context.Context, actor auth.Principal, runID string) error {
	if err := auth.Require(actor.Role, auth.PermRunKill); err != nil {
		p.logControl(ctx, actor, auth.PermRunKill, runID, false, err.Error())
		return fmt.Errorf("kill run %s: %w", runID, err)
	}

	// Cancel first so a stalled generation cannot delay the status change
	// past its next suspension point
	p.cancelExecution(runID)

	lock := p.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.IsTerminal() {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}

	if err := p.store.UpdateRun(ctx, runID, map[string]interface{}{
		"status": string(types.RunKilled),
	}); err != nil {
		return fmt.Errorf("failed to kill run %s: %w", runID, err)
	}
	_, err = p.ledger.Append(ctx, run.TenantID, audit.EventRunKilled, map[string]interface{}{
		"run_id":    runID,
		"phase":     run.CurrentPhase,
		"killed_by": actor.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to audit kill: %w", err)
	}
	p.logControl(ctx, actor, auth.PermRunKill, runID, true, "")
	return nil
}

// Pause suspends a running run
func (p *Pipeline) Pause(ctx context.Context, actor auth.Principal, runID string) error {
	return p.setStatus(ctx, actor, runID, auth.PermRunPause,
		types.RunRunning, types.RunPaused, audit.EventRunPaused)
}

// Resume restarts a paused run
func (p *Pipeline) Resume(ctx context.Context, actor auth.Principal, runID string) error {
	return p.setStatus(ctx, actor, runID, auth.PermRunResume,
		types.RunPaused, types.RunRunning, audit.EventRunResumed)
}

func (p *Pipeline) setStatus(ctx context.Context, actor auth.Principal, runID string, perm auth.Permission, from, to types.RunStatus, event audit.EventType) error {
	if err := auth.Require(actor.Role, perm); err != nil {
		p.logControl(ctx, actor, perm, runID, false, err.Error())
		return fmt.Errorf("%s run %s: %w", perm, runID, err)
	}

	lock := p.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status != from {
		return fmt.Errorf("run %s is %s, expected %s", runID, run.Status, from)
	}

	if err := p.store.UpdateRun(ctx, runID, map[string]interface{}{
		"status": string(to),
	}); err != nil {
		return fmt.Errorf("failed to update run %s: %w", runID, err)
	}
	_, err = p.ledger.Append(ctx, run.TenantID, event, map[string]interface{}{
		"run_id": runID,
		"by":     actor.UserID,
	})
	if err != nil {
		return fmt.Errorf("failed to audit status change: %w", err)
	}
	p.logControl(ctx, actor, perm, runID, true, "")
	return nil
}

// AdvanceApproved moves a run past its current phase after an operator
// approved the latest artifact. Approval overrides the unknown soft block, so
// this path skips the blocking check entirely.
func (p *Pipeline) AdvanceApproved(ctx context.Context, runID string) (*Result, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status != types.RunRunning {
		return nil, fmt.Errorf("run %s is %s, cannot advance", runID, run.Status)
	}

	artifact, err := p.store.GetLatestArtifact(ctx, runID, run.CurrentPhase)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest artifact: %w", err)
	}
	if artifact.ReviewVerdict != types.VerdictApproved {
		return nil, fmt.Errorf("latest artifact for run %s is %s, approval required", runID, artifact.ReviewVerdict)
	}

	effective, err := p.store.EffectiveScore(ctx, artifact.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load effective score: %w", err)
	}

	return p.advanceUnblocked(ctx, runID, run.CurrentPhase, artifact, effective.Overall, artifact.ReviewIteration)
}

func (p *Pipeline) logControl(ctx context.Context, actor auth.Principal, perm auth.Permission, runID string, success bool, errMsg string) {
	entry := &audit.OperatorLogEntry{
		ID:         uuid.New().String(),
		UserID:     actor.UserID,
		TenantID:   actor.TenantID,
		Action:     string(perm),
		Resource:   "run",
		ResourceID: runID,
		Success:    success,
		Error:      errMsg,
	}
	if err := p.ledger.RecordOperator(ctx, entry); err != nil {
		fmt.Printf("Warning: failed to record operator log for %s: %v\n", perm, err)
	}
}

// Drive advances a run phase by phase until it stops advancing: completion,
// awaiting review, a block, a kill, or an error.
func (p *Pipeline) Drive(ctx context.Context, runID string) (*Result, error) {
	for {
		result, err := p.ExecutePhase(ctx, runID)
		if err != nil {
			return nil, err
		}
		if result.Outcome != OutcomeAdvanced {
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
	}
}

// Heartbeat registers this engine instance and keeps its heartbeat fresh
// until the context is canceled. Stale instances from crashed engines are
// swept on each tick.
func (p *Pipeline) Heartbeat(ctx context.Context, instance *types.EngineInstance, interval time.Duration, staleAfter time.Duration) error {
	if err := p.store.RegisterInstance(ctx, instance); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.store.UpdateHeartbeat(ctx, instance.InstanceID); err != nil {
				fmt.Printf("Warning: heartbeat update failed: %v\n", err)
			}
			n, err := p.store.CleanupStaleInstances(ctx, int(staleAfter.Seconds()))
			if err != nil {
				fmt.Printf("Warning: stale instance cleanup failed: %v\n", err)
			} else if n > 0 {
				fmt.Printf("Marked %d stale engine instance(s) stopped\n", n)
			}
		}
	}
}
