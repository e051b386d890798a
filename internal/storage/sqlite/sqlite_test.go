package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestRun(t *testing.T, store *SQLiteStorage) *types.Run {
	t.Helper()
	run := &types.Run{
		ID:           uuid.New().String(),
		Idea:         "a scheduling assistant for volunteer shifts",
		Status:       types.RunRunning,
		CurrentPhase: types.PhaseIdeation,
		Mode:         types.ModeSupervised,
		TenantID:     "default",
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	return run
}

func TestRunCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store)

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Idea != run.Idea {
		t.Errorf("idea = %q, want %q", got.Idea, run.Idea)
	}
	if got.Status != types.RunRunning {
		t.Errorf("status = %s, want running", got.Status)
	}

	err = store.UpdateRun(ctx, run.ID, map[string]interface{}{
		"status":        string(types.RunPaused),
		"current_phase": string(types.PhaseValidation),
		"pivot_count":   1,
	})
	if err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun after update failed: %v", err)
	}
	if got.Status != types.RunPaused || got.CurrentPhase != types.PhaseValidation || got.PivotCount != 1 {
		t.Errorf("unexpected run after update: %+v", got)
	}

	// Unknown columns are rejected
	if err := store.UpdateRun(ctx, run.ID, map[string]interface{}{"idea": "rewritten"}); err == nil {
		t.Error("expected error updating immutable column")
	}

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRunsFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	r1 := createTestRun(t, store)
	createTestRun(t, store)

	if err := store.UpdateRun(ctx, r1.ID, map[string]interface{}{"status": "killed"}); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	killed, err := store.ListRuns(ctx, types.RunFilter{Status: types.RunKilled})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(killed) != 1 || killed[0].ID != r1.ID {
		t.Errorf("expected only killed run %s, got %d runs", r1.ID, len(killed))
	}
}

func TestArtifactVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store)

	var first *types.PhaseArtifact
	for i := 0; i < 3; i++ {
		a := &types.PhaseArtifact{
			ID:      uuid.New().String(),
			RunID:   run.ID,
			Phase:   types.PhaseIdeation,
			Content: json.RawMessage(`{"attempt":` + string(rune('0'+i)) + `}`),
		}
		if err := store.CreateArtifact(ctx, a); err != nil {
			t.Fatalf("CreateArtifact %d failed: %v", i, err)
		}
		if a.Version != i+1 {
			t.Errorf("version = %d, want %d", a.Version, i+1)
		}
		if first == nil {
			first = a
		}
	}

	// Versions are per run+phase
	b := &types.PhaseArtifact{
		ID:      uuid.New().String(),
		RunID:   run.ID,
		Phase:   types.PhaseValidation,
		Content: json.RawMessage(`{}`),
	}
	if err := store.CreateArtifact(ctx, b); err != nil {
		t.Fatalf("CreateArtifact for second phase failed: %v", err)
	}
	if b.Version != 1 {
		t.Errorf("second-phase version = %d, want 1", b.Version)
	}

	// Earlier versions remain unchanged after later ones are created
	got, err := store.GetArtifact(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got.Version != 1 || string(got.Content) != `{"attempt":0}` {
		t.Errorf("first artifact mutated: %+v", got)
	}

	latest, err := store.GetLatestArtifact(ctx, run.ID, types.PhaseIdeation)
	if err != nil {
		t.Fatalf("GetLatestArtifact failed: %v", err)
	}
	if latest.Version != 3 {
		t.Errorf("latest version = %d, want 3", latest.Version)
	}

	all, err := store.ListArtifacts(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("artifact count = %d, want 4", len(all))
	}
}

func TestEffectiveScorePrefersOverride(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store)

	a := &types.PhaseArtifact{
		ID:      uuid.New().String(),
		RunID:   run.ID,
		Phase:   types.PhaseIdeation,
		Content: json.RawMessage(`{"summary":"x"}`),
	}
	if err := store.CreateArtifact(ctx, a); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	auto := &types.QualityScore{
		ID: uuid.New().String(), ArtifactID: a.ID, RunID: run.ID,
		Phase: types.PhaseIdeation, Overall: 50, Evaluator: types.EvaluatorAutomated,
	}
	if err := store.CreateScore(ctx, auto); err != nil {
		t.Fatalf("CreateScore automated failed: %v", err)
	}

	effective, err := store.EffectiveScore(ctx, a.ID)
	if err != nil {
		t.Fatalf("EffectiveScore failed: %v", err)
	}
	if effective.Overall != 50 {
		t.Errorf("effective = %d, want automated 50", effective.Overall)
	}

	override := &types.QualityScore{
		ID: uuid.New().String(), ArtifactID: a.ID, RunID: run.ID,
		Phase: types.PhaseIdeation, Overall: 90,
		Evaluator: types.EvaluatorHybrid, EvaluatorID: "op-1",
	}
	if err := store.CreateScore(ctx, override); err != nil {
		t.Fatalf("CreateScore override failed: %v", err)
	}

	effective, err = store.EffectiveScore(ctx, a.ID)
	if err != nil {
		t.Fatalf("EffectiveScore after override failed: %v", err)
	}
	if effective.Overall != 90 || effective.Evaluator != types.EvaluatorHybrid {
		t.Errorf("effective after override = %+v, want hybrid 90", effective)
	}

	// Both rows are retained for audit
	scores, err := store.GetScores(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetScores failed: %v", err)
	}
	if len(scores) != 2 {
		t.Errorf("score rows = %d, want 2", len(scores))
	}
}

func TestUnknownResolutionUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store)

	u := &types.Unknown{
		ID: uuid.New().String(), RunID: run.ID,
		PhaseDiscovered: types.PhaseValidation,
		Priority:        types.PriorityHigh, Status: types.UnknownOpen,
		Question: "does the target market exist?",
	}
	if err := store.CreateUnknown(ctx, u); err != nil {
		t.Fatalf("CreateUnknown failed: %v", err)
	}

	res := &types.UnknownResolution{
		ID: uuid.New().String(), UnknownID: u.ID, Status: types.ResolutionInProgress,
	}
	if err := store.CreateResolution(ctx, res); err != nil {
		t.Fatalf("CreateResolution failed: %v", err)
	}

	// A second active resolution for the same unknown is rejected
	dup := &types.UnknownResolution{
		ID: uuid.New().String(), UnknownID: u.ID, Status: types.ResolutionInProgress,
	}
	if err := store.CreateResolution(ctx, dup); err == nil {
		t.Error("expected error creating second active resolution")
	}

	// Completing the first allows a new one
	now := time.Now().Unix()
	if err := store.UpdateResolution(ctx, res.ID, map[string]interface{}{
		"status": string(types.ResolutionCompleted), "completed_at": now,
	}); err != nil {
		t.Fatalf("UpdateResolution failed: %v", err)
	}
	if err := store.CreateResolution(ctx, dup); err != nil {
		t.Errorf("expected new resolution after completion, got %v", err)
	}
}

func TestGetActiveResolution(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store)

	u := &types.Unknown{
		ID: uuid.New().String(), RunID: run.ID,
		PhaseDiscovered: types.PhaseIdeation,
		Priority:        types.PriorityMedium, Status: types.UnknownOpen,
		Question: "which channel converts?",
	}
	if err := store.CreateUnknown(ctx, u); err != nil {
		t.Fatalf("CreateUnknown failed: %v", err)
	}

	// No in-progress row yet: nil without error
	active, err := store.GetActiveResolution(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetActiveResolution failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active resolution, got %+v", active)
	}

	res := &types.UnknownResolution{ID: uuid.New().String(), UnknownID: u.ID, Status: types.ResolutionInProgress}
	if err := store.CreateResolution(ctx, res); err != nil {
		t.Fatalf("CreateResolution failed: %v", err)
	}
	active, err = store.GetActiveResolution(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetActiveResolution failed: %v", err)
	}
	if active == nil || active.ID != res.ID {
		t.Fatalf("active resolution = %+v, want %s", active, res.ID)
	}

	if err := store.UpdateResolution(ctx, res.ID, map[string]interface{}{
		"status": string(types.ResolutionCompleted), "completed_at": time.Now().Unix(),
	}); err != nil {
		t.Fatalf("UpdateResolution failed: %v", err)
	}
	active, err = store.GetActiveResolution(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetActiveResolution failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected nil after completion, got %+v", active)
	}
}

func TestResolutionSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store)

	u := &types.Unknown{
		ID: uuid.New().String(), RunID: run.ID,
		PhaseDiscovered: types.PhaseIdeation,
		Priority:        types.PriorityMedium, Status: types.UnknownOpen,
		Question: "what pricing model fits?",
	}
	if err := store.CreateUnknown(ctx, u); err != nil {
		t.Fatalf("CreateUnknown failed: %v", err)
	}
	res := &types.UnknownResolution{ID: uuid.New().String(), UnknownID: u.ID, Status: types.ResolutionInProgress}
	if err := store.CreateResolution(ctx, res); err != nil {
		t.Fatalf("CreateResolution failed: %v", err)
	}

	for i, action := range []string{"survey competitors", "interview prospects"} {
		step := &types.ResolutionStep{
			ID: uuid.New().String(), WorkflowID: res.ID,
			Phase: types.PhaseIdeation, Action: action, Confidence: 40 + i*20,
			CompletedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := store.AddResolutionStep(ctx, step); err != nil {
			t.Fatalf("AddResolutionStep failed: %v", err)
		}
	}

	steps, err := store.GetResolutionSteps(ctx, res.ID)
	if err != nil {
		t.Fatalf("GetResolutionSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("step count = %d, want 2", len(steps))
	}
	if steps[0].Action != "survey competitors" {
		t.Errorf("steps out of order: first = %q", steps[0].Action)
	}
}

func TestHandoffTerminalStates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	run := createTestRun(t, store)

	h := &types.Handoff{
		ID: uuid.New().String(), RunID: run.ID,
		FromPhase: types.PhaseIdeation, ToPhase: types.PhaseValidation,
		Status: types.HandoffPending, ArtifactID: "art-1",
		Dependencies: []string{"art-0"},
	}
	if err := store.CreateHandoff(ctx, h); err != nil {
		t.Fatalf("CreateHandoff failed: %v", err)
	}

	if err := store.UpdateHandoffStatus(ctx, h.ID, types.HandoffAccepted); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if err := store.UpdateHandoffStatus(ctx, h.ID, types.HandoffRejected); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	// Rejected is terminal: no reopening
	if err := store.UpdateHandoffStatus(ctx, h.ID, types.HandoffPending); err == nil {
		t.Error("expected error transitioning terminal handoff")
	}

	got, err := store.GetHandoff(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHandoff failed: %v", err)
	}
	if got.Status != types.HandoffRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "art-0" {
		t.Errorf("dependencies = %v, want [art-0]", got.Dependencies)
	}
}

func TestEscalationLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	esc := &types.Escalation{
		ID: uuid.New().String(), DecisionID: "dec-1", FromOperatorID: "op-1",
		Reason: "score disagreement", Priority: types.EscalationUrgent,
		Status: types.EscalationPending,
	}
	if err := store.CreateEscalation(ctx, esc); err != nil {
		t.Fatalf("CreateEscalation failed: %v", err)
	}

	pending, err := store.ListEscalations(ctx, types.EscalationPending)
	if err != nil {
		t.Fatalf("ListEscalations failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending count = %d, want 1", len(pending))
	}

	now := time.Now().Unix()
	err = store.UpdateEscalation(ctx, esc.ID, map[string]interface{}{
		"status":           string(types.EscalationResolved),
		"resolution":       "override approved",
		"resolved_at":      now,
		"to_supervisor_id": "sup-1",
	})
	if err != nil {
		t.Fatalf("UpdateEscalation failed: %v", err)
	}

	got, err := store.GetEscalation(ctx, esc.ID)
	if err != nil {
		t.Fatalf("GetEscalation failed: %v", err)
	}
	if got.Status != types.EscalationResolved || got.ResolvedAt == nil {
		t.Errorf("unexpected escalation after resolve: %+v", got)
	}
}

func TestAuditChainPersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ledger, err := audit.NewLedger(store)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		if _, err := ledger.Append(ctx, "default", "test_event", map[string]int{"i": i}); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	result, err := ledger.Verify(ctx, "default")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.Entries != 10 {
		t.Errorf("verify = %+v, want valid with 10 entries", result)
	}

	// A duplicate sequence number violates the primary key
	head, err := store.LastChainEntry(ctx, "default")
	if err != nil {
		t.Fatalf("LastChainEntry failed: %v", err)
	}
	dup := *head
	if err := store.AppendChainEntry(ctx, &dup); err == nil {
		t.Error("expected error appending duplicate sequence")
	}
}

func TestOperatorLogRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &audit.OperatorLogEntry{
		ID: uuid.New().String(), UserID: "op-1", TenantID: "default",
		Action: "review.approve", Resource: "artifact", ResourceID: "art-1",
		Success: false, Error: "permission denied",
	}
	if err := store.RecordOperatorLog(ctx, entry); err != nil {
		t.Fatalf("RecordOperatorLog failed: %v", err)
	}

	entries, err := store.ListOperatorLog(ctx, "default", 10)
	if err != nil {
		t.Fatalf("ListOperatorLog failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entry count = %d, want 1", len(entries))
	}
	if entries[0].Success || entries[0].Error != "permission denied" {
		t.Errorf("unexpected entry: %+v", entries[0])
	}
}

func TestInstanceHeartbeat(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst := &types.EngineInstance{
		InstanceID: uuid.New().String(), Hostname: "host-1", PID: 4242, Version: "0.1.0",
	}
	if err := store.RegisterInstance(ctx, inst); err != nil {
		t.Fatalf("RegisterInstance failed: %v", err)
	}
	if err := store.UpdateHeartbeat(ctx, inst.InstanceID); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}

	// Fresh instances survive cleanup
	n, err := store.CleanupStaleInstances(ctx, 300)
	if err != nil {
		t.Fatalf("CleanupStaleInstances failed: %v", err)
	}
	if n != 0 {
		t.Errorf("cleaned %d instances, want 0", n)
	}
}
