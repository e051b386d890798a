// Package verify checks generated task output against its declared contract.
// Three ordered levels: syntactic (fatal on failure), contract (exports, env
// vars, endpoints), and behavioral (delegated to an external acceptance
// runner). Failed attempts are requeued with an augmented prompt.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/planwright/planwright/internal/audit"
)

// Level identifies one verification layer
type Level string

const (
	LevelSyntactic  Level = "syntactic"
	LevelContract   Level = "contract"
	LevelBehavioral Level = "behavioral"
)

// Endpoint is one declared or observed HTTP endpoint
type Endpoint struct {
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`
}

// Contract declares what a generated task must deliver
type Contract struct {
	TaskID    string     `json:"task_id" yaml:"task_id"`
	Exports   []string   `json:"exports,omitempty" yaml:"exports,omitempty"`
	EnvVars   []string   `json:"env_vars,omitempty" yaml:"env_vars,omitempty"`
	Endpoints []Endpoint `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
}

// Report is what the task executor observed after running the task
type Report struct {
	FilesProduced      []string   `json:"files_produced" yaml:"files_produced"`
	EnvVarsPresent     []string   `json:"env_vars_present" yaml:"env_vars_present"`
	EndpointsAvailable []Endpoint `json:"endpoints_available,omitempty" yaml:"endpoints_available,omitempty"` // nil = no live endpoint list supplied
	TypecheckPassed    bool       `json:"typecheck_passed" yaml:"typecheck_passed"`
	LintPassed         bool       `json:"lint_passed" yaml:"lint_passed"`
}

// Check is one individual verification check
type Check struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
	Passed bool   `json:"passed"`
}

// LevelResult is the outcome of one verification level
type LevelResult struct {
	Level  Level   `json:"level"`
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Failed returns the checks that did not pass
func (r LevelResult) Failed() []Check {
	var failed []Check
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Outcome aggregates the levels that ran for one attempt. A syntactic failure
// stops the attempt before the contract level runs.
type Outcome struct {
	TaskID  string        `json:"task_id"`
	Passed  bool          `json:"passed"`
	Levels  []LevelResult `json:"levels"`
	Attempt int           `json:"attempt"`
}

// FailedChecks returns every failed check across all levels that ran
func (o Outcome) FailedChecks() []Check {
	var failed []Check
	for _, lvl := range o.Levels {
		failed = append(failed, lvl.Failed()...)
	}
	return failed
}

// Syntactic passes only if at least one file was produced and both static
// checks succeeded
func Syntactic(report Report) LevelResult {
	result := LevelResult{Level: LevelSyntactic, Passed: true}

	files := Check{Name: "files_produced", Passed: len(report.FilesProduced) > 0}
	if !files.Passed {
		files.Detail = "task produced no files"
	} else {
		files.Detail = fmt.Sprintf("%d file(s)", len(report.FilesProduced))
	}
	typecheck := Check{Name: "typecheck", Passed: report.TypecheckPassed}
	if !typecheck.Passed {
		typecheck.Detail = "type checking reported errors"
	}
	lint := Check{Name: "lint", Passed: report.LintPassed}
	if !lint.Passed {
		lint.Detail = "lint reported errors"
	}

	result.Checks = []Check{files, typecheck, lint}
	for _, c := range result.Checks {
		if !c.Passed {
			result.Passed = false
		}
	}
	return result
}

// ContractChecks verifies declared exports, required environment variables,
// and declared endpoints against the executor's report. Export matching is
// deliberately lenient: a declared export is satisfied by any non-empty file
// set, with the best name-normalized match recorded so reviewers can judge
// plausibility.
func ContractChecks(contract Contract, report Report) LevelResult {
	result := LevelResult{Level: LevelContract, Passed: true}

	for _, export := range contract.Exports {
		check := Check{Name: "export:" + export}
		if len(report.FilesProduced) == 0 {
			check.Detail = "no files produced"
		} else {
			check.Passed = true
			if match := bestFileMatch(export, report.FilesProduced); match != "" {
				check.Detail = "matched_file=" + match
			} else {
				check.Detail = "no filename resembles the export; accepted leniently"
			}
		}
		result.Checks = append(result.Checks, check)
	}

	present := make(map[string]bool, len(report.EnvVarsPresent))
	for _, v := range report.EnvVarsPresent {
		present[v] = true
	}
	for _, v := range contract.EnvVars {
		check := Check{Name: "env:" + v, Passed: present[v]}
		if !check.Passed {
			check.Detail = "not present in execution context"
		}
		result.Checks = append(result.Checks, check)
	}

	// Endpoint checks only run when a live endpoint list was supplied
	if report.EndpointsAvailable != nil {
		for _, want := range contract.Endpoints {
			check := Check{Name: fmt.Sprintf("endpoint:%s %s", want.Method, want.Path)}
			for _, got := range report.EndpointsAvailable {
				if endpointMatches(want, got) {
					check.Passed = true
					check.Detail = fmt.Sprintf("matched %s %s", got.Method, got.Path)
					break
				}
			}
			if !check.Passed {
				check.Detail = "no available endpoint matches"
			}
			result.Checks = append(result.Checks, check)
		}
	}

	for _, c := range result.Checks {
		if !c.Passed {
			result.Passed = false
		}
	}
	return result
}

// endpointMatches compares endpoints by method equality and per-segment path
// comparison. A declared path-parameter segment (":id" or "{id}") matches any
// concrete token in that position.
func endpointMatches(declared, available Endpoint) bool {
	if !strings.EqualFold(declared.Method, available.Method) {
		return false
	}
	ds := splitPath(declared.Path)
	as := splitPath(available.Path)
	if len(ds) != len(as) {
		return false
	}
	for i := range ds {
		if isParam(ds[i]) {
			continue
		}
		if ds[i] != as[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}

func isParam(segment string) bool {
	return strings.HasPrefix(segment, ":") ||
		(strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}"))
}

// bestFileMatch returns the first produced file whose normalized name
// contains the normalized export name, or "" if none does
func bestFileMatch(export string, files []string) string {
	want := normalize(export)
	if want == "" {
		return ""
	}
	for _, f := range files {
		base := f
		if i := strings.LastIndexAny(f, "/\\"); i >= 0 {
			base = f[i+1:]
		}
		if strings.Contains(normalize(base), want) {
			return f
		}
	}
	return ""
}

// normalize lowercases and strips every non-alphanumeric rune so that
// "getUserByID", "get_user_by_id.go" and "get-user-by-id" all line up
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Verifier runs verification attempts and records outcomes in the ledger
type Verifier struct {
	ledger *audit.Ledger
}

// NewVerifier creates a contract verifier
func NewVerifier(ledger *audit.Ledger) (*Verifier, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	return &Verifier{ledger: ledger}, nil
}

// Run executes one verification attempt. The syntactic level is fatal: if it
// fails, the contract level never runs. The behavioral level is delegated to
// an external acceptance-criteria runner and is not evaluated here.
func (v *Verifier) Run(ctx context.Context, tenantID string, contract Contract, report Report, attempt int) (*Outcome, error) {
	outcome := &Outcome{TaskID: contract.TaskID, Attempt: attempt}

	syntactic := Syntactic(report)
	outcome.Levels = append(outcome.Levels, syntactic)
	if syntactic.Passed {
		contractLevel := ContractChecks(contract, report)
		outcome.Levels = append(outcome.Levels, contractLevel)
		outcome.Passed = contractLevel.Passed
	}

	event := audit.EventVerificationPassed
	if !outcome.Passed {
		event = audit.EventVerificationFailed
	}
	_, err := v.ledger.Append(ctx, tenantID, event, map[string]interface{}{
		"task_id": contract.TaskID,
		"attempt": attempt,
		"failed":  len(outcome.FailedChecks()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to audit verification: %w", err)
	}
	return outcome, nil
}

// Requeue builds the augmented prompt for the task's next attempt and records
// the requeue. The original instructions are preserved verbatim; only failed
// checks are appended, one `name: detail` line each.
func (v *Verifier) Requeue(ctx context.Context, tenantID, original string, outcome *Outcome) (string, error) {
	if outcome.Passed {
		return "", fmt.Errorf("task %s passed verification, nothing to requeue", outcome.TaskID)
	}
	prompt := RequeuePrompt(original, outcome.FailedChecks(), outcome.Attempt+1)

	_, err := v.ledger.Append(ctx, tenantID, audit.EventTaskRequeued, map[string]interface{}{
		"task_id":      outcome.TaskID,
		"next_attempt": outcome.Attempt + 1,
		"failed":       len(outcome.FailedChecks()),
	})
	if err != nil {
		return "", fmt.Errorf("failed to audit requeue: %w", err)
	}
	return prompt, nil
}

// RequeuePrompt appends the failed checks and the attempt number to the
// original task instructions
func RequeuePrompt(original string, failed []Check, attempt int) string {
	var b strings.Builder
	b.WriteString(original)
	fmt.Fprintf(&b, "\n\nThis is attempt %d. The previous attempt failed verification. Fix the following:\n", attempt)
	for _, c := range failed {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Detail)
	}
	return b.String()
}
