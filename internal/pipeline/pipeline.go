// Package pipeline orchestrates phase execution for runs: it invokes the
// generation step, applies quality gating and the self-revision loop, blocks
// on unresolved critical unknowns, and advances runs through handoffs.
//
// Each run is effectively single-threaded: phase-advancing work for one run
// is serialized through an addressable per-run lock, while distinct runs
// advance fully in parallel. The lock is held only for read-modify-write
// sections, never across a generation call.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planwright/planwright/internal/ai"
	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/handoff"
	"github.com/planwright/planwright/internal/phase"
	"github.com/planwright/planwright/internal/review"
	"github.com/planwright/planwright/internal/score"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/types"
	"github.com/planwright/planwright/internal/unknowns"
)

// Outcome describes where one phase execution left the run
type Outcome string

const (
	// OutcomeAdvanced means the artifact passed gating and the run moved to the next phase
	OutcomeAdvanced Outcome = "advanced"
	// OutcomeCompleted means the final phase passed and the run is done
	OutcomeCompleted Outcome = "completed"
	// OutcomeAwaitingReview means gating or generation exhausted its budget and an operator must decide
	OutcomeAwaitingReview Outcome = "awaiting_review"
	// OutcomeBlockedOnUnknown means the artifact passed but open critical/high unknowns block advancement
	OutcomeBlockedOnUnknown Outcome = "blocked_on_unknown"
	// OutcomeKilled means the run was killed while executing
	OutcomeKilled Outcome = "killed"
)

// Result is the outcome of one ExecutePhase call
type Result struct {
	Outcome    Outcome
	Phase      types.Phase
	Artifact   *types.PhaseArtifact
	Score      int
	Iterations int
}

// Config holds pipeline configuration
type Config struct {
	Store     storage.Storage
	Ledger    *audit.Ledger
	Generator ai.Generator
	Broker    *handoff.Broker
	Tracker   *unknowns.Tracker
	Reviews   *review.Manager

	// Thresholds maps each phase to its minimum passing score. Phases
	// without an entry use DefaultThreshold.
	Thresholds       map[types.Phase]int
	DefaultThreshold int

	// MaxSelfIterations bounds the self-revision loop per phase execution
	MaxSelfIterations int

	// Generation failure retry policy (distinct from the scoring loop)
	MaxGenAttempts int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns a config with sensible defaults (dependencies unset)
func DefaultConfig() *Config {
	return &Config{
		DefaultThreshold:  70,
		MaxSelfIterations: 2,
		MaxGenAttempts:    3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
	}
}

// Pipeline drives runs through the phase sequence
type Pipeline struct {
	store     storage.Storage
	ledger    *audit.Ledger
	generator ai.Generator
	broker    *handoff.Broker
	tracker   *unknowns.Tracker
	reviews   *review.Manager
	cfg       *Config

	locks *lockRegistry

	mu       sync.Mutex
	inflight map[string]context.CancelFunc // runID -> cancel for in-flight execution
}

// New creates a pipeline
func New(cfg *Config) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("handoff broker is required")
	}
	if cfg.Tracker == nil {
		return nil, fmt.Errorf("unknown tracker is required")
	}
	if cfg.Reviews == nil {
		return nil, fmt.Errorf("review manager is required")
	}

	defaults := DefaultConfig()
	if cfg.DefaultThreshold == 0 {
		cfg.DefaultThreshold = defaults.DefaultThreshold
	}
	if cfg.MaxSelfIterations == 0 {
		cfg.MaxSelfIterations = defaults.MaxSelfIterations
	}
	if cfg.MaxGenAttempts == 0 {
		cfg.MaxGenAttempts = defaults.MaxGenAttempts
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}

	return &Pipeline{
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		generator: cfg.Generator,
		broker:    cfg.Broker,
		tracker:   cfg.Tracker,
		reviews:   cfg.Reviews,
		cfg:       cfg,
		locks:     newLockRegistry(),
		inflight:  make(map[string]context.CancelFunc),
	}, nil
}

// CreateRun registers a new run at the first phase
func (p *Pipeline) CreateRun(ctx context.Context, idea string, mode types.RunMode, tenantID string) (*types.Run, error) {
	if tenantID == "" {
		tenantID = "default"
	}
	if mode == "" {
		mode = types.ModeSupervised
	}
	run := &types.Run{
		ID:           uuid.New().String(),
		Idea:         idea,
		Status:       types.RunRunning,
		CurrentPhase: types.PhaseOrder[0],
		Mode:         mode,
		TenantID:     tenantID,
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	_, err := p.ledger.Append(ctx, tenantID, audit.EventRunCreated, map[string]interface{}{
		"run_id": run.ID,
		"mode":   mode,
		"phase":  run.CurrentPhase,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit run creation: %w", err)
	}
	return run, nil
}

// Threshold returns the passing score for a phase
func (p *Pipeline) Threshold(ph types.Phase) int {
	if t, ok := p.cfg.Thresholds[ph]; ok {
		return t
	}
	return p.cfg.DefaultThreshold
}

// ExecutePhase runs the current phase of a run once: generate, score, and
// either advance, stop for review, or report a block. Exactly one execution
// per run may be in flight.
func (p *Pipeline) ExecutePhase(ctx context.Context, runID string) (*Result, error) {
	return p.execute(ctx, runID, "")
}

// Regenerate re-runs the current phase with operator revision instructions
// injected into the generation prompt
func (p *Pipeline) Regenerate(ctx context.Context, runID, instructions string) (*Result, error) {
	if strings.TrimSpace(instructions) == "" {
		return nil, fmt.Errorf("revision instructions are required")
	}
	return p.execute(ctx, runID, instructions)
}

func (p *Pipeline) execute(ctx context.Context, runID, instructions string) (*Result, error) {
	execCtx, err := p.registerExecution(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer p.deregisterExecution(runID)

	// Validate under the run lock, then release it for the generation loop
	lock := p.locks.get(runID)
	lock.Lock()
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.IsTerminal() {
		lock.Unlock()
		return nil, fmt.Errorf("run %s is %s", runID, run.Status)
	}
	if run.Status == types.RunPaused {
		lock.Unlock()
		return nil, fmt.Errorf("run %s is paused", runID)
	}
	currentPhase := run.CurrentPhase
	lock.Unlock()

	def, err := phase.Get(currentPhase)
	if err != nil {
		return nil, err
	}

	_, err = p.ledger.Append(ctx, run.TenantID, audit.EventPhaseStarted, map[string]interface{}{
		"run_id": runID,
		"phase":  currentPhase,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit phase start: %w", err)
	}

	prior := p.priorArtifact(ctx, run)
	threshold := p.Threshold(currentPhase)

	var (
		artifact *types.PhaseArtifact
		overall  int
		feedback string
	)

	for iteration := 1; iteration <= p.cfg.MaxSelfIterations; iteration++ {
		prompt := def.Prompt(phase.Input{
			Idea:         run.Idea,
			RefinedIdea:  run.RefinedIdea,
			Prior:        prior,
			Feedback:     feedback,
			Instructions: instructions,
			Attempt:      iteration,
		})

		content, genErr := p.generateWithRetry(execCtx, run, prompt)
		if genErr != nil {
			if killed, res := p.checkKilled(ctx, runID, currentPhase); killed {
				return res, nil
			}
			return p.stopForReview(ctx, run, currentPhase, artifact, overall, iteration,
				fmt.Sprintf("generation failed: %v", genErr))
		}

		artifact, overall, err = p.commitArtifact(ctx, runID, currentPhase, content, def.Rubric(), iteration)
		if err != nil {
			return nil, err
		}
		if artifact == nil { // run left the running state during generation
			if killed, res := p.checkKilled(ctx, runID, currentPhase); killed {
				return res, nil
			}
			return nil, fmt.Errorf("run %s left the running state during generation", runID)
		}

		if overall >= threshold {
			return p.advance(ctx, runID, currentPhase, artifact, overall, iteration)
		}

		scores, err := p.store.GetScores(ctx, artifact.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load scores for feedback: %w", err)
		}
		if len(scores) > 0 {
			feedback = score.FeedbackSummary(scores[len(scores)-1].Dimensions)
		}
		fmt.Printf("Run %s phase %s attempt %d scored %d (threshold %d)\n",
			runID, currentPhase, iteration, overall, threshold)
	}

	reason := fmt.Sprintf("score %d below threshold %d after %d attempts", overall, threshold, p.cfg.MaxSelfIterations)

	// Exhausting an operator-requested revision means the operator's
	// instructions could not bring the artifact to the bar; that decision
	// goes up to a supervisor rather than back to the same operator.
	if instructions != "" && artifact != nil {
		_, escErr := p.reviews.AutoEscalate(ctx, run.TenantID, artifact.ID,
			fmt.Sprintf("revision exhausted: %s", reason), types.EscalationHigh)
		if escErr != nil {
			return nil, fmt.Errorf("failed to escalate exhausted revision: %w", escErr)
		}
	}

	return p.stopForReview(ctx, run, currentPhase, artifact, overall, p.cfg.MaxSelfIterations, reason)
}

// generateWithRetry retries transient generation failures with exponential
// backoff and jitter. A kill cancels execCtx, aborting before the next attempt.
func (p *Pipeline) generateWithRetry(execCtx context.Context, run *types.Run, prompt string) (json.RawMessage, error) {
	var lastErr error
	backoff := p.cfg.InitialBackoff

	for attempt := 1; attempt <= p.cfg.MaxGenAttempts; attempt++ {
		if err := execCtx.Err(); err != nil {
			return nil, fmt.Errorf("generation canceled: %w", err)
		}

		content, err := p.generator.Generate(execCtx, prompt)
		if err == nil {
			return content, nil
		}
		lastErr = err

		_, auditErr := p.ledger.Append(execCtx, run.TenantID, audit.EventGenerationFailed, map[string]interface{}{
			"run_id":  run.ID,
			"phase":   run.CurrentPhase,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if auditErr != nil {
			fmt.Printf("Warning: failed to audit generation failure: %v\n", auditErr)
		}

		if attempt == p.cfg.MaxGenAttempts {
			break
		}

		sleep := backoff/2 + time.Duration(rand.Int63n(int64(backoff)))
		fmt.Printf("Generation for run %s failed (attempt %d/%d), retrying in %v: %v\n",
			run.ID, attempt, p.cfg.MaxGenAttempts, sleep, err)
		select {
		case <-time.After(sleep):
		case <-execCtx.Done():
			return nil, fmt.Errorf("generation canceled during backoff: %w", execCtx.Err())
		}
		backoff *= 2
		if backoff > p.cfg.MaxBackoff {
			backoff = p.cfg.MaxBackoff
		}
	}
	return nil, fmt.Errorf("generation failed after %d attempts: %w", p.cfg.MaxGenAttempts, lastErr)
}

// commitArtifact stores the generated content and its automated score under
// the run lock. Returns a nil artifact if the run is no longer running.
func (p *Pipeline) commitArtifact(ctx context.Context, runID string, ph types.Phase, content json.RawMessage, rubric score.Schema, iteration int) (*types.PhaseArtifact, int, error) {
	lock := p.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reload run %s: %w", runID, err)
	}
	if run.Status != types.RunRunning || run.CurrentPhase != ph {
		return nil, 0, nil
	}

	artifact := &types.PhaseArtifact{
		ID:              uuid.New().String(),
		RunID:           runID,
		Phase:           ph,
		Content:         content,
		ReviewIteration: iteration,
	}
	if err := p.store.CreateArtifact(ctx, artifact); err != nil {
		return nil, 0, fmt.Errorf("failed to store artifact: %w", err)
	}

	// Each ideation artifact restates the refined idea; a restatement that
	// replaces a previous one is a pivot
	if ph == types.PhaseIdeation {
		if refined := extractRefinedIdea(content); refined != "" && refined != run.RefinedIdea {
			runUpdates := map[string]interface{}{"refined_idea": refined}
			if run.RefinedIdea != "" {
				runUpdates["pivot_count"] = run.PivotCount + 1
			}
			if err := p.store.UpdateRun(ctx, runID, runUpdates); err != nil {
				return nil, 0, fmt.Errorf("failed to record refined idea: %w", err)
			}
		}
	}
	_, err = p.ledger.Append(ctx, run.TenantID, audit.EventArtifactGenerated, map[string]interface{}{
		"run_id":      runID,
		"phase":       ph,
		"artifact_id": artifact.ID,
		"version":     artifact.Version,
		"iteration":   iteration,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to audit artifact: %w", err)
	}

	graded := score.Grade(artifact, rubric)
	if err := p.store.CreateScore(ctx, graded); err != nil {
		return nil, 0, fmt.Errorf("failed to store score: %w", err)
	}
	if err := p.store.SetArtifactScore(ctx, artifact.ID, graded.Overall); err != nil {
		return nil, 0, fmt.Errorf("failed to set artifact score: %w", err)
	}
	artifact.OverallScore = graded.Overall

	_, err = p.ledger.Append(ctx, run.TenantID, audit.EventArtifactScored, map[string]interface{}{
		"run_id":      runID,
		"artifact_id": artifact.ID,
		"overall":     graded.Overall,
		"evaluator":   graded.Evaluator,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to audit score: %w", err)
	}
	return artifact, graded.Overall, nil
}

// advance moves the run past a passing artifact: soft-block check, handoff,
// phase bump, completion on the final phase. Called with the lock released;
// takes it for the transition.
func (p *Pipeline) advance(ctx context.Context, runID string, ph types.Phase, artifact *types.PhaseArtifact, overall, iterations int) (*Result, error) {
	blocking, err := p.tracker.Blocking(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(blocking) > 0 {
		run, err := p.store.GetRun(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		_, err = p.ledger.Append(ctx, run.TenantID, audit.EventRunBlockedUnknown, map[string]interface{}{
			"run_id":      runID,
			"phase":       ph,
			"artifact_id": artifact.ID,
			"blocking":    len(blocking),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to audit block: %w", err)
		}
		return &Result{Outcome: OutcomeBlockedOnUnknown, Phase: ph, Artifact: artifact, Score: overall, Iterations: iterations}, nil
	}
	return p.advanceUnblocked(ctx, runID, ph, artifact, overall, iterations)
}

func (p *Pipeline) advanceUnblocked(ctx context.Context, runID string, ph types.Phase, artifact *types.PhaseArtifact, overall, iterations int) (*Result, error) {
	lock := p.locks.get(runID)
	lock.Lock()
	defer lock.Unlock()

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status != types.RunRunning || run.CurrentPhase != ph {
		return nil, fmt.Errorf("run %s changed state during advancement (status=%s phase=%s)", runID, run.Status, run.CurrentPhase)
	}

	if err := p.store.SetArtifactVerdict(ctx, artifact.ID, types.VerdictApproved, artifact.ReviewIteration); err != nil {
		return nil, fmt.Errorf("failed to set artifact verdict: %w", err)
	}

	updates := map[string]interface{}{}
	next, hasNext := ph.Next()
	if !hasNext {
		updates["status"] = string(types.RunCompleted)
		if err := p.store.UpdateRun(ctx, runID, updates); err != nil {
			return nil, fmt.Errorf("failed to complete run %s: %w", runID, err)
		}
		_, err = p.ledger.Append(ctx, run.TenantID, audit.EventRunCompleted, map[string]interface{}{
			"run_id":      runID,
			"final_phase": ph,
			"artifact_id": artifact.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to audit completion: %w", err)
		}
		return &Result{Outcome: OutcomeCompleted, Phase: ph, Artifact: artifact, Score: overall, Iterations: iterations}, nil
	}

	nextDef, err := phase.Get(next)
	if err != nil {
		return nil, err
	}

	// The whole transfer happens inside this engine, so the handoff is
	// created, accepted, and completed in one motion. The payload snapshots
	// the approved artifact as it crossed the boundary, even if later
	// revisions supersede it.
	h, err := p.broker.Create(ctx, handoff.CreateRequest{
		RunID:        runID,
		FromPhase:    ph,
		ArtifactID:   artifact.ID,
		Payload:      artifact.Content,
		Instructions: handoffInstructions(next, nextDef.Rubric()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create handoff: %w", err)
	}
	if err := p.broker.Accept(ctx, h.ID); err != nil {
		return nil, err
	}
	if err := p.broker.Complete(ctx, h.ID); err != nil {
		return nil, err
	}

	updates["current_phase"] = string(next)
	if err := p.store.UpdateRun(ctx, runID, updates); err != nil {
		return nil, fmt.Errorf("failed to advance run %s: %w", runID, err)
	}
	_, err = p.ledger.Append(ctx, run.TenantID, audit.EventRunAdvanced, map[string]interface{}{
		"run_id":     runID,
		"from_phase": ph,
		"to_phase":   next,
		"handoff_id": h.ID,
		"score":      overall,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit advancement: %w", err)
	}
	return &Result{Outcome: OutcomeAdvanced, Phase: ph, Artifact: artifact, Score: overall, Iterations: iterations}, nil
}

// stopForReview parks the run for an operator decision. The run stays in the
// running status; the pending artifact verdict is what routes it to review.
func (p *Pipeline) stopForReview(ctx context.Context, run *types.Run, ph types.Phase, artifact *types.PhaseArtifact, overall, iterations int, reason string) (*Result, error) {
	payload := map[string]interface{}{
		"run_id": run.ID,
		"phase":  ph,
		"reason": reason,
	}
	if artifact != nil {
		payload["artifact_id"] = artifact.ID
	}
	_, err := p.ledger.Append(ctx, run.TenantID, audit.EventRunAwaitingReview, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to audit awaiting-review transition: %w", err)
	}
	return &Result{Outcome: OutcomeAwaitingReview, Phase: ph, Artifact: artifact, Score: overall, Iterations: iterations}, nil
}

// checkKilled reloads the run to see whether a kill interrupted execution
func (p *Pipeline) checkKilled(ctx context.Context, runID string, ph types.Phase) (bool, *Result) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return false, nil
	}
	if run.Status == types.RunKilled {
		return true, &Result{Outcome: OutcomeKilled, Phase: ph}
	}
	return false, nil
}

// priorArtifact returns the predecessor phase's latest artifact content
func (p *Pipeline) priorArtifact(ctx context.Context, run *types.Run) json.RawMessage {
	idx := run.CurrentPhase.Index()
	if idx <= 0 {
		return nil
	}
	prev := types.PhaseOrder[idx-1]
	artifact, err := p.store.GetLatestArtifact(ctx, run.ID, prev)
	if err != nil {
		return nil
	}
	return artifact.Content
}

// handoffInstructions tells the receiving phase what its artifact must cover
func handoffInstructions(next types.Phase, rubric score.Schema) string {
	names := make([]string, len(rubric.Required))
	for i, f := range rubric.Required {
		names[i] = f.Name
	}
	return fmt.Sprintf("Produce the %s artifact covering: %s", next, strings.Join(names, ", "))
}

func extractRefinedIdea(content json.RawMessage) string {
	var obj struct {
		RefinedIdea string `json:"refined_idea"`
	}
	if err := json.Unmarshal(content, &obj); err != nil {
		return ""
	}
	return strings.TrimSpace(obj.RefinedIdea)
}

func (p *Pipeline) registerExecution(ctx context.Context, runID string) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inflight[runID]; exists {
		return nil, fmt.Errorf("phase execution already in flight for run %s", runID)
	}
	execCtx, cancel := context.WithCancel(ctx)
	p.inflight[runID] = cancel
	return execCtx, nil
}

func (p *Pipeline) deregisterExecution(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.inflight[runID]; ok {
		cancel()
		delete(p.inflight, runID)
	}
}

// cancelExecution aborts any in-flight execution for the run
func (p *Pipeline) cancelExecution(runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.inflight[runID]; ok {
		cancel()
	}
}

// lockRegistry hands out an addressable lock per run id
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*sync.Mutex)}
}

func (r *lockRegistry) get(runID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.locks[runID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[runID] = m
	}
	return m
}
