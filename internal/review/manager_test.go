package review

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/auth"
	"github.com/planwright/planwright/internal/storage"
	"github.com/planwright/planwright/internal/types"
)

var (
	operator   = auth.Principal{UserID: "op-1", Role: types.RoleOperator, TenantID: "default"}
	supervisor = auth.Principal{UserID: "sup-1", Role: types.RoleSupervisor, TenantID: "default"}
)

type testEnv struct {
	mgr   *Manager
	store storage.Storage
	run   *types.Run
	art   *types.PhaseArtifact
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ledger, err := audit.NewLedger(store)
	require.NoError(t, err)
	mgr, err := NewManager(store, ledger)
	require.NoError(t, err)

	run := &types.Run{
		ID:           uuid.New().String(),
		Idea:         "a tool-lending library network",
		Status:       types.RunRunning,
		CurrentPhase: types.PhaseIdeation,
		Mode:         types.ModeSupervised,
		TenantID:     "default",
	}
	require.NoError(t, store.CreateRun(ctx, run))

	art := &types.PhaseArtifact{
		ID:      uuid.New().String(),
		RunID:   run.ID,
		Phase:   types.PhaseIdeation,
		Content: json.RawMessage(`{"summary":"concept"}`),
	}
	require.NoError(t, store.CreateArtifact(ctx, art))

	return &testEnv{mgr: mgr, store: store, run: run, art: art}
}

func TestApproveSetsVerdict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	review, err := env.mgr.Review(ctx, operator, Request{
		ArtifactID: env.art.ID,
		Action:     types.ActionApprove,
		Confidence: 90,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ActionApprove, review.Action)

	got, err := env.store.GetArtifact(ctx, env.art.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VerdictApproved, got.ReviewVerdict)
	assert.Equal(t, 1, got.ReviewIteration)
}

func TestReviseRequiresInstructions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.Review(ctx, operator, Request{
		ArtifactID: env.art.ID,
		Action:     types.ActionRevise,
		Confidence: 60,
	})
	assert.Error(t, err)

	review, err := env.mgr.Review(ctx, operator, Request{
		ArtifactID:           env.art.ID,
		Action:               types.ActionRevise,
		Confidence:           60,
		RevisionInstructions: "tighten the target-customer definition",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, review.RevisionInstructions)
}

func TestEveryActionProducesChainAndLogEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.Review(ctx, operator, Request{
		ArtifactID: env.art.ID,
		Action:     types.ActionApprove,
		Confidence: 80,
	})
	require.NoError(t, err)

	entries, err := env.store.ListChainEntries(ctx, "default", 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventReviewRecorded, entries[0].EventType)

	logs, err := env.store.ListOperatorLog(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, "op-1", logs[0].UserID)
}

func TestDeniedActionLogsFailureWithoutChainEntry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Score override is supervisor-only
	_, err := env.mgr.OverrideScore(ctx, operator, env.art.ID, 95, "looks fine to me")
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrPermissionDenied))

	entries, err := env.store.ListChainEntries(ctx, "default", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "denied action must not reach the chain")

	logs, err := env.store.ListOperatorLog(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.NotEmpty(t, logs[0].Error)
}

func TestOverrideScoreKeepsBothRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	auto := &types.QualityScore{
		ID: uuid.New().String(), ArtifactID: env.art.ID, RunID: env.run.ID,
		Phase: env.art.Phase, Overall: 55, Evaluator: types.EvaluatorAutomated,
	}
	require.NoError(t, env.store.CreateScore(ctx, auto))

	override, err := env.mgr.OverrideScore(ctx, supervisor, env.art.ID, 82, "depth is there, rubric undervalues it")
	require.NoError(t, err)
	assert.Equal(t, types.EvaluatorHybrid, override.Evaluator)

	scores, err := env.store.GetScores(ctx, env.art.ID)
	require.NoError(t, err)
	assert.Len(t, scores, 2)

	effective, err := env.store.EffectiveScore(ctx, env.art.ID)
	require.NoError(t, err)
	assert.Equal(t, 82, effective.Overall)
}

func TestEscalationFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.Review(ctx, operator, Request{
		ArtifactID:         env.art.ID,
		Action:             types.ActionEscalate,
		Confidence:         40,
		EscalationReason:   "cannot judge the regulatory angle",
		EscalationPriority: types.EscalationHigh,
	})
	require.NoError(t, err)

	pending, err := env.mgr.PendingEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	esc := pending[0]
	assert.Equal(t, "op-1", esc.FromOperatorID)

	// Operators cannot resolve escalations
	err = env.mgr.ResolveEscalation(ctx, operator, esc.ID, "self-approved", true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrPermissionDenied))

	require.NoError(t, env.mgr.ResolveEscalation(ctx, supervisor, esc.ID, "reviewed with counsel, approved", true))

	got, err := env.store.GetEscalation(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EscalationResolved, got.Status)
	assert.Equal(t, "sup-1", got.ToSupervisorID)

	// Already-resolved escalations stay closed
	err = env.mgr.ResolveEscalation(ctx, supervisor, esc.ID, "again", false)
	assert.Error(t, err)
}

func TestTakeEscalation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.mgr.Review(ctx, operator, Request{
		ArtifactID:       env.art.ID,
		Action:           types.ActionEscalate,
		Confidence:       35,
		EscalationReason: "conflicting market signals",
	})
	require.NoError(t, err)
	pending, err := env.mgr.PendingEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	esc := pending[0]

	// Operators cannot take escalations
	err = env.mgr.TakeEscalation(ctx, operator, esc.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrPermissionDenied))

	require.NoError(t, env.mgr.TakeEscalation(ctx, supervisor, esc.ID))

	got, err := env.store.GetEscalation(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EscalationInReview, got.Status)
	assert.Equal(t, "sup-1", got.ToSupervisorID)

	// Taken escalations leave the pending queue and cannot be taken twice
	pending, err = env.mgr.PendingEscalations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Error(t, env.mgr.TakeEscalation(ctx, supervisor, esc.ID))

	// Resolution proceeds from in_review
	require.NoError(t, env.mgr.ResolveEscalation(ctx, supervisor, esc.ID, "signals reconciled, approved", true))
	got, err = env.store.GetEscalation(ctx, esc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EscalationResolved, got.Status)
}

func TestAutoEscalate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	esc, err := env.mgr.AutoEscalate(ctx, "default", env.art.ID,
		"revision budget exhausted below quality threshold", types.EscalationUrgent)
	require.NoError(t, err)
	assert.Equal(t, "system", esc.FromOperatorID)
	assert.Equal(t, types.EscalationPending, esc.Status)

	entries, err := env.store.ListChainEntries(ctx, "default", 1, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.EventEscalationCreated, entries[0].EventType)
}

func TestHistoryAccumulates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, req := range []Request{
		{ArtifactID: env.art.ID, Action: types.ActionRevise, Confidence: 50, RevisionInstructions: "add competitor analysis"},
		{ArtifactID: env.art.ID, Action: types.ActionApprove, Confidence: 85},
	} {
		_, err := env.mgr.Review(ctx, operator, req)
		require.NoError(t, err)
	}

	history, err := env.mgr.History(ctx, env.art.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, types.ActionRevise, history[0].Action)
	assert.Equal(t, types.ActionApprove, history[1].Action)
}
