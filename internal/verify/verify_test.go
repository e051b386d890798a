package verify

import (
	"context"
	"strings"
	"testing"

	"github.com/planwright/planwright/internal/audit"
	"github.com/planwright/planwright/internal/storage"
)

func passingReport() Report {
	return Report{
		FilesProduced:   []string{"internal/users/handler.go"},
		EnvVarsPresent:  []string{"DATABASE_URL"},
		TypecheckPassed: true,
		LintPassed:      true,
	}
}

func TestSyntacticRequiresFilesAndCleanChecks(t *testing.T) {
	result := Syntactic(passingReport())
	if !result.Passed {
		t.Errorf("expected pass, got %+v", result)
	}

	result = Syntactic(Report{TypecheckPassed: true, LintPassed: true})
	if result.Passed {
		t.Error("expected failure with no files produced")
	}

	result = Syntactic(Report{FilesProduced: []string{"a.go"}, TypecheckPassed: false, LintPassed: true})
	if result.Passed {
		t.Error("expected failure on typecheck errors")
	}
	failed := result.Failed()
	if len(failed) != 1 || failed[0].Name != "typecheck" {
		t.Errorf("failed = %+v, want only typecheck", failed)
	}
}

func TestExportMatchingIsLenientButRecordsMatch(t *testing.T) {
	contract := Contract{Exports: []string{"getUserByID", "unrelatedThing"}}
	report := Report{FilesProduced: []string{"internal/users/get_user_by_id.go"}}

	result := ContractChecks(contract, report)
	if !result.Passed {
		t.Fatalf("expected pass, got %+v", result)
	}

	byName := map[string]Check{}
	for _, c := range result.Checks {
		byName[c.Name] = c
	}
	if got := byName["export:getUserByID"].Detail; got != "matched_file=internal/users/get_user_by_id.go" {
		t.Errorf("detail = %q, want matched_file", got)
	}
	if !strings.Contains(byName["export:unrelatedThing"].Detail, "leniently") {
		t.Errorf("detail = %q, want lenient acceptance note", byName["export:unrelatedThing"].Detail)
	}

	// With no files at all, exports fail
	result = ContractChecks(contract, Report{})
	if result.Passed {
		t.Error("expected failure with no files")
	}
}

func TestEnvVarChecks(t *testing.T) {
	contract := Contract{EnvVars: []string{"DATABASE_URL", "API_KEY"}}
	report := Report{FilesProduced: []string{"main.go"}, EnvVarsPresent: []string{"DATABASE_URL"}}

	result := ContractChecks(contract, report)
	if result.Passed {
		t.Error("expected failure with missing env var")
	}
	failed := result.Failed()
	if len(failed) != 1 || failed[0].Name != "env:API_KEY" {
		t.Errorf("failed = %+v, want only env:API_KEY", failed)
	}
}

func TestEndpointMatching(t *testing.T) {
	tests := []struct {
		name      string
		declared  Endpoint
		available Endpoint
		want      bool
	}{
		{"param segment matches token", Endpoint{"POST", "/api/x/:id"}, Endpoint{"POST", "/api/x/42"}, true},
		{"method mismatch", Endpoint{"POST", "/api/x/:id"}, Endpoint{"GET", "/api/x/42"}, false},
		{"method case-insensitive", Endpoint{"post", "/api/x/:id"}, Endpoint{"POST", "/api/x/42"}, true},
		{"brace param style", Endpoint{"GET", "/api/x/{id}"}, Endpoint{"GET", "/api/x/42"}, true},
		{"literal mismatch", Endpoint{"GET", "/api/x/list"}, Endpoint{"GET", "/api/x/42"}, false},
		{"segment count mismatch", Endpoint{"GET", "/api/x/:id"}, Endpoint{"GET", "/api/x/42/extra"}, false},
		{"exact match", Endpoint{"DELETE", "/api/x"}, Endpoint{"DELETE", "/api/x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := endpointMatches(tt.declared, tt.available); got != tt.want {
				t.Errorf("endpointMatches(%v, %v) = %v, want %v", tt.declared, tt.available, got, tt.want)
			}
		})
	}
}

func TestEndpointChecksSkippedWithoutLiveList(t *testing.T) {
	contract := Contract{Endpoints: []Endpoint{{"GET", "/api/x"}}}
	report := Report{FilesProduced: []string{"main.go"}}

	result := ContractChecks(contract, report)
	if !result.Passed || len(result.Checks) != 0 {
		t.Errorf("expected no endpoint checks without a live list, got %+v", result)
	}
}

func TestSyntacticFailureIsFatal(t *testing.T) {
	v, store := newTestVerifier(t)
	ctx := context.Background()

	contract := Contract{TaskID: "task-1", EnvVars: []string{"API_KEY"}}
	report := Report{TypecheckPassed: false, LintPassed: true}

	outcome, err := v.Run(ctx, "default", contract, report, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Passed {
		t.Error("expected failed outcome")
	}
	if len(outcome.Levels) != 1 || outcome.Levels[0].Level != LevelSyntactic {
		t.Errorf("levels = %+v, want syntactic only", outcome.Levels)
	}

	entries, err := store.ListChainEntries(ctx, "default", 1, 10)
	if err != nil {
		t.Fatalf("ListChainEntries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != audit.EventVerificationFailed {
		t.Errorf("entries = %+v, want one verification_failed", entries)
	}
}

func TestPassingRunRecordsSuccess(t *testing.T) {
	v, store := newTestVerifier(t)
	ctx := context.Background()

	contract := Contract{
		TaskID:    "task-2",
		Exports:   []string{"CreateUser"},
		EnvVars:   []string{"DATABASE_URL"},
		Endpoints: []Endpoint{{"POST", "/api/users/:id"}},
	}
	report := passingReport()
	report.FilesProduced = append(report.FilesProduced, "internal/users/create_user.go")
	report.EndpointsAvailable = []Endpoint{{"POST", "/api/users/42"}}

	outcome, err := v.Run(ctx, "default", contract, report, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !outcome.Passed || len(outcome.Levels) != 2 {
		t.Errorf("outcome = %+v, want pass with both levels", outcome)
	}

	entries, _ := store.ListChainEntries(ctx, "default", 1, 10)
	if len(entries) != 1 || entries[0].EventType != audit.EventVerificationPassed {
		t.Errorf("entries = %+v, want one verification_passed", entries)
	}
}

func TestRequeuePrompt(t *testing.T) {
	original := "Implement the user creation endpoint per the blueprint."
	failed := []Check{
		{Name: "env:API_KEY", Detail: "not present in execution context"},
		{Name: "endpoint:POST /api/users/:id", Detail: "no available endpoint matches"},
	}

	prompt := RequeuePrompt(original, failed, 2)

	if !strings.HasPrefix(prompt, original) {
		t.Error("requeue prompt must start with the original instructions verbatim")
	}
	if !strings.Contains(prompt, "attempt 2") {
		t.Error("requeue prompt must state the attempt number")
	}
	for _, c := range failed {
		if !strings.Contains(prompt, c.Name+": "+c.Detail) {
			t.Errorf("prompt missing failure line for %s", c.Name)
		}
	}
}

func TestRequeueExcludesPassedChecks(t *testing.T) {
	v, store := newTestVerifier(t)
	ctx := context.Background()

	contract := Contract{TaskID: "task-3", EnvVars: []string{"DATABASE_URL", "API_KEY"}}
	report := passingReport() // has DATABASE_URL, lacks API_KEY

	outcome, err := v.Run(ctx, "default", contract, report, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if outcome.Passed {
		t.Fatal("expected failed outcome")
	}

	prompt, err := v.Requeue(ctx, "default", "original instructions", outcome)
	if err != nil {
		t.Fatalf("Requeue failed: %v", err)
	}
	if !strings.Contains(prompt, "env:API_KEY") {
		t.Error("prompt missing the failed check")
	}
	if strings.Contains(prompt, "env:DATABASE_URL") {
		t.Error("prompt must not mention passed checks")
	}

	entries, _ := store.ListChainEntries(ctx, "default", 1, 10)
	if len(entries) != 2 || entries[1].EventType != audit.EventTaskRequeued {
		t.Errorf("entries = %+v, want verification_failed then task_requeued", entries)
	}

	// Passing outcomes cannot be requeued
	good, err := v.Run(ctx, "default", Contract{TaskID: "task-4"}, passingReport(), 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := v.Requeue(ctx, "default", "x", good); err == nil {
		t.Error("expected error requeueing a passing outcome")
	}
}

func newTestVerifier(t *testing.T) (*Verifier, storage.Storage) {
	t.Helper()
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ledger, err := audit.NewLedger(store)
	if err != nil {
		t.Fatalf("Failed to create ledger: %v", err)
	}
	v, err := NewVerifier(ledger)
	if err != nil {
		t.Fatalf("Failed to create verifier: %v", err)
	}
	return v, store
}
