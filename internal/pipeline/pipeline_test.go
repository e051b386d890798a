package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planwright/planwright/internal/ai"
	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/auth"
	"github.com/planwright/planwright/internal/handoff"
	"github.com/planwright/planwright/internal/review"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/types"
	"github.com/planwright/planwright/internal/unknowns"
)

var (
	operator   = auth.Principal{UserID: "op-1", Role: types.RoleOperator, TenantID: "default"}
	supervisor = auth.Principal{UserID: "sup-1", Role: types.RoleSupervisor, TenantID: "default"}
)

// completeContent carries every required field of every phase rubric, so any
// phase scores 100 with it
const completeContent = `{
	"refined_idea": "neighborhood tool-sharing with verified lenders",
	"target_users": ["renters", "hobbyists"],
	"value_proposition": "tools without ownership costs",
	"differentiators": ["verified lenders"],
	"risks": ["liability"],
	"market_evidence": "waitlist of 400 households",
	"competitor_analysis": [{"name": "incumbents", "weakness": "no trust layer"}],
	"riskiest_assumptions": ["people lend expensive tools"],
	"validation_plan": "pilot in two neighborhoods",
	"recommendation": "proceed",
	"components": [{"name": "inventory", "responsibility": "catalog"}],
	"data_model": "users, tools, loans",
	"technology_choices": "boring stack",
	"integration_points": "payments provider",
	"scaling_considerations": "city-by-city",
	"modules": ["inventory", "loans"],
	"interfaces": "REST between modules",
	"milestones": ["pilot", "launch"],
	"dependencies": "loans depends on inventory",
	"acceptance_criteria": "pilot completes 50 loans",
	"tasks": ["build catalog"],
	"ordering": "catalog first",
	"estimates": "two weeks",
	"skills_needed": ["backend"],
	"definition_of_done": "deployed and used"
}`

// sparseContent scores 65 against the 5-field ideation rubric is impossible
// (scores are multiples of 20); 3 of 5 fields present scores 60, below a
// threshold of 70
const sparseContent = `{
	"refined_idea": "neighborhood tool-sharing",
	"target_users": ["renters"],
	"value_proposition": "tools without ownership costs",
	"differentiators": "",
	"risks": []
}`

type testEnv struct {
	pipeline *Pipeline
	store    storage.Storage
	ledger   *audit.Ledger
	tracker  *unknowns.Tracker
	reviews  *review.Manager
	gen      *ai.StaticGenerator
}

func newTestEnv(t *testing.T, gen ai.Generator) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledger, err := audit.NewLedger(store)
	require.NoError(t, err)
	broker, err := handoff.NewBroker(store, ledger)
	require.NoError(t, err)
	tracker, err := unknowns.NewTracker(store, ledger)
	require.NoError(t, err)
	reviews, err := review.NewManager(store, ledger)
	require.NoError(t, err)

	p, err := New(&Config{
		Store:             store,
		Ledger:            ledger,
		Generator:         gen,
		Broker:            broker,
		Tracker:           tracker,
		Reviews:           reviews,
		DefaultThreshold:  70,
		MaxSelfIterations: 2,
		MaxGenAttempts:    2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
	})
	require.NoError(t, err)

	env := &testEnv{pipeline: p, store: store, ledger: ledger, tracker: tracker, reviews: reviews}
	if sg, ok := gen.(*ai.StaticGenerator); ok {
		env.gen = sg
	}
	return env
}

func staticOK() *ai.StaticGenerator {
	return ai.NewStaticGenerator(ai.StaticResponse{Content: json.RawMessage(completeContent)})
}

func TestCreateRun(t *testing.T) {
	env := newTestEnv(t, staticOK())
	ctx := context.Background()

	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, run.Status)
	assert.Equal(t, types.PhaseIdeation, run.CurrentPhase)
	assert.Equal(t, "default", run.TenantID)

	entries, err := env.store.ListChainEntries(ctx, "default", 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventRunCreated, entries[0].EventType)
}

func TestPassingArtifactAdvances(t *testing.T) {
	env := newTestEnv(t, staticOK())
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, result.Outcome)
	assert.Equal(t, types.PhaseIdeation, result.Phase)
	assert.Equal(t, 100, result.Score)

	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseValidation, got.CurrentPhase)
	assert.Equal(t, "neighborhood tool-sharing with verified lenders", got.RefinedIdea)

	artifact, err := env.store.GetLatestArtifact(ctx, run.ID, types.PhaseIdeation)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictApproved, artifact.ReviewVerdict)

	// The transfer completed its handoff in one motion
	handoffs, err := env.store.ListHandoffs(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, handoffs, 1)
	assert.Equal(t, types.HandoffComplete, handoffs[0].Status)
	assert.Equal(t, types.PhaseValidation, handoffs[0].ToPhase)

	// The handoff snapshots the crossing artifact and briefs the receiver
	assert.JSONEq(t, string(artifact.Content), string(handoffs[0].Payload))
	assert.Contains(t, handoffs[0].Instructions, "validation artifact")
	assert.Contains(t, handoffs[0].Instructions, "market_evidence")
}

func TestDriveRunsToCompletion(t *testing.T) {
	env := newTestEnv(t, staticOK())
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeAutonomous, "")
	require.NoError(t, err)

	result, err := env.pipeline.Drive(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, result.Outcome)
	assert.Equal(t, types.PhaseTasking, result.Phase)

	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, got.Status)

	artifacts, err := env.store.ListArtifacts(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, artifacts, len(types.PhaseOrder))

	// Chain stays valid across the whole run
	verified, err := env.ledger.Verify(ctx, "default")
	require.NoError(t, err)
	assert.True(t, verified.Valid)
}

func TestExhaustedSelfRevisionStopsForReview(t *testing.T) {
	// Always below threshold: 3/5 fields = 60 < 70
	gen := ai.NewStaticGenerator(ai.StaticResponse{Content: json.RawMessage(sparseContent)})
	env := newTestEnv(t, gen)
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingReview, result.Outcome)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, 60, result.Score)

	// Exactly maxSelfIterations generations, never a third
	assert.Equal(t, 2, gen.Calls())

	// The second prompt carried the first attempt's feedback
	prompts := gen.Prompts()
	assert.NotContains(t, prompts[0], `required field "differentiators"`)
	assert.Contains(t, prompts[1], `required field "differentiators"`)

	// Run stays running at the same phase; both artifact versions retained
	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunRunning, got.Status)
	assert.Equal(t, types.PhaseIdeation, got.CurrentPhase)

	artifacts, err := env.store.ListArtifacts(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.Equal(t, 1, artifacts[0].Version)
	assert.Equal(t, 2, artifacts[1].Version)

	entries, err := env.store.ListChainEntries(ctx, "default", 1, 50)
	require.NoError(t, err)
	var awaiting bool
	for _, e := range entries {
		if e.EventType == audit.EventRunAwaitingReview {
			awaiting = true
		}
	}
	assert.True(t, awaiting, "awaiting_review transition must reach the ledger")
}

func TestBlockingUnknownHaltsAdvance(t *testing.T) {
	env := newTestEnv(t, staticOK())
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	u := &types.Unknown{
		RunID:           run.ID,
		PhaseDiscovered: types.PhaseIdeation,
		Priority:        types.PriorityCritical,
		Question:        "is lending insurance even obtainable?",
	}
	require.NoError(t, env.tracker.File(ctx, u))

	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlockedOnUnknown, result.Outcome)

	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseIdeation, got.CurrentPhase, "blocked run must not advance")

	// Operator approval overrides the soft block
	_, err = env.reviews.Review(ctx, operator, review.Request{
		ArtifactID: result.Artifact.ID,
		Action:     types.ActionApprove,
		Confidence: 80,
		Feedback:   "insurance risk acknowledged, proceeding",
	})
	require.NoError(t, err)

	advanced, err := env.pipeline.AdvanceApproved(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, advanced.Outcome)

	got, err = env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseValidation, got.CurrentPhase)
}

func TestAnsweredUnknownUnblocks(t *testing.T) {
	env := newTestEnv(t, staticOK())
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	u := &types.Unknown{
		RunID:           run.ID,
		PhaseDiscovered: types.PhaseIdeation,
		Priority:        types.PriorityHigh,
		Question:        "minimum viable insurance coverage?",
	}
	require.NoError(t, env.tracker.File(ctx, u))

	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeBlockedOnUnknown, result.Outcome)

	_, err = env.tracker.StartResolution(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, env.tracker.Answer(ctx, u.ID, "standard renter policies cover it", 85, types.PhaseIdeation))

	// Re-executing generates a fresh artifact and now advances
	result, err = env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, result.Outcome)
}

func TestGenerationFailureRetriesThenStops(t *testing.T) {
	gen := ai.NewStaticGenerator(ai.StaticResponse{Err: fmt.Errorf("503 service unavailable")})
	env := newTestEnv(t, gen)
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingReview, result.Outcome)
	assert.Nil(t, result.Artifact, "generation failure must never produce an artifact")

	// MaxGenAttempts=2, one loop iteration reaches the failure cap
	assert.Equal(t, 2, gen.Calls())

	entries, err := env.store.ListChainEntries(ctx, "default", 1, 50)
	require.NoError(t, err)
	var failures int
	for _, e := range entries {
		if e.EventType == audit.EventGenerationFailed {
			failures++
		}
	}
	assert.Equal(t, 2, failures)

	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PhaseIdeation, got.CurrentPhase, "failed generation must never advance the phase")
}

func TestRegenerateInjectsInstructionsAndCountsPivots(t *testing.T) {
	gen := ai.NewStaticGenerator(
		ai.StaticResponse{Content: json.RawMessage(sparseContent)},
		ai.StaticResponse{Content: json.RawMessage(sparseContent)},
		ai.StaticResponse{Content: json.RawMessage(completeContent)},
	)
	env := newTestEnv(t, gen)
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingReview, result.Outcome)

	result, err = env.pipeline.Regenerate(ctx, run.ID, "drop the generic angle, focus on verified lenders")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, result.Outcome)

	prompts := gen.Prompts()
	assert.Contains(t, prompts[len(prompts)-1], "focus on verified lenders")

	// The regenerated artifact restated the refined idea differently: a pivot
	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.PivotCount)
	assert.Equal(t, "neighborhood tool-sharing with verified lenders", got.RefinedIdea)
}

func TestExhaustedRevisionAutoEscalates(t *testing.T) {
	// Sparse forever: the operator's instructions never rescue the score
	gen := ai.NewStaticGenerator(ai.StaticResponse{Content: json.RawMessage(sparseContent)})
	env := newTestEnv(t, gen)
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingReview, result.Outcome)

	// First exhaustion parks for review without escalating
	pending, err := env.reviews.PendingEscalations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = env.reviews.Review(ctx, operator, review.Request{
		ArtifactID:           result.Artifact.ID,
		Action:               types.ActionRevise,
		Confidence:           70,
		RevisionInstructions: "name at least two differentiators and the risks",
	})
	require.NoError(t, err)

	result, err = env.pipeline.Regenerate(ctx, run.ID, "name at least two differentiators and the risks")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingReview, result.Outcome)

	// Exhausting the requested revision raises a system escalation
	pending, err = env.reviews.PendingEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, result.Artifact.ID, pending[0].DecisionID)
	assert.Equal(t, "system", pending[0].FromOperatorID)
	assert.Equal(t, types.EscalationHigh, pending[0].Priority)

	entries, err := env.store.ListChainEntries(ctx, "default", 1, 100)
	require.NoError(t, err)
	var created bool
	for _, e := range entries {
		if e.EventType == audit.EventEscalationCreated {
			created = true
		}
	}
	assert.True(t, created, "system escalation must reach the ledger")
}

func TestKillIsTerminalAndObservable(t *testing.T) {
	block := make(chan struct{})
	gen := &blockingGenerator{release: block}
	env := newTestEnv(t, gen)
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		result *Result
		execZ  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, execZ = env.pipeline.ExecutePhase(ctx, run.ID)
	}()

	<-gen.started()
	require.NoError(t, env.pipeline.Kill(ctx, operator, run.ID))
	close(block)
	wg.Wait()

	require.NoError(t, execZ)
	assert.Equal(t, OutcomeKilled, result.Outcome)

	got, err := env.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RunKilled, got.Status)

	// Killed is terminal
	_, err = env.pipeline.ExecutePhase(ctx, run.ID)
	assert.Error(t, err)
	assert.Error(t, env.pipeline.Resume(ctx, supervisor, run.ID))
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t, staticOK())
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	// Pause is supervisor-gated; a denied attempt is logged with success=false
	err = env.pipeline.Pause(ctx, operator, run.ID)
	assert.Error(t, err)
	logs, err := env.store.ListOperatorLog(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)

	require.NoError(t, env.pipeline.Pause(ctx, supervisor, run.ID))
	_, err = env.pipeline.ExecutePhase(ctx, run.ID)
	assert.Error(t, err, "paused runs must not execute")

	require.NoError(t, env.pipeline.Resume(ctx, supervisor, run.ID))
	result, err := env.pipeline.ExecutePhase(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, result.Outcome)
}

func TestConcurrentExecutionRejected(t *testing.T) {
	block := make(chan struct{})
	gen := &blockingGenerator{release: block}
	env := newTestEnv(t, gen)
	ctx := context.Background()
	run, err := env.pipeline.CreateRun(ctx, "a tool-sharing network", types.ModeSupervised, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = env.pipeline.ExecutePhase(ctx, run.ID)
	}()

	<-gen.started()
	_, err = env.pipeline.ExecutePhase(ctx, run.ID)
	assert.Error(t, err, "second in-flight execution for the same run must be rejected")

	close(block)
	wg.Wait()
}

func TestRunsAdvanceIndependently(t *testing.T) {
	env := newTestEnv(t, staticOK())
	ctx := context.Background()

	a, err := env.pipeline.CreateRun(ctx, "idea a", types.ModeSupervised, "")
	require.NoError(t, err)
	b, err := env.pipeline.CreateRun(ctx, "idea b", types.ModeSupervised, "")
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Kill(ctx, operator, a.ID))

	result, err := env.pipeline.ExecutePhase(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, result.Outcome, "killing one run must not affect another")
}

// blockingGenerator parks in Generate until released, aborting early if the
// context is canceled
type blockingGenerator struct {
	release   chan struct{}
	startOnce sync.Once
	startedCh chan struct{}
	mu        sync.Mutex
}

func (g *blockingGenerator) started() chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startedCh == nil {
		g.startedCh = make(chan struct{})
	}
	return g.startedCh
}

func (g *blockingGenerator) Generate(ctx context.Context, prompt string) (json.RawMessage, error) {
	g.startOnce.Do(func() { close(g.started()) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
		return json.RawMessage(completeContent), nil
	}
}
