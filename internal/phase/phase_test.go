package phase

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/planwright/planwright/internal/types"
)

func TestRegistryCoversAllPhases(t *testing.T) {
	defs := All()
	if len(defs) != len(types.PhaseOrder) {
		t.Fatalf("definition count = %d, want %d", len(defs), len(types.PhaseOrder))
	}
	for i, def := range defs {
		if def.Phase() != types.PhaseOrder[i] {
			t.Errorf("definition %d = %s, want %s", i, def.Phase(), types.PhaseOrder[i])
		}
	}
}

func TestGetUnknownPhase(t *testing.T) {
	if _, err := Get(types.Phase("shipping")); err == nil {
		t.Error("expected error for unknown phase")
	}
}

func TestRubricsAreNonEmptyAndWeighted(t *testing.T) {
	for _, def := range All() {
		rubric := def.Rubric()
		if len(rubric.Required) == 0 {
			t.Errorf("phase %s has an empty rubric", def.Phase())
			continue
		}
		var total float64
		for _, f := range rubric.Required {
			if f.Name == "" {
				t.Errorf("phase %s has an unnamed rubric field", def.Phase())
			}
			total += f.Weight
		}
		if total < 0.99 || total > 1.01 {
			t.Errorf("phase %s rubric weights sum to %.2f, want 1.0", def.Phase(), total)
		}
	}
}

func TestPromptNamesEveryRubricField(t *testing.T) {
	in := Input{Idea: "a carpool app for rural school districts", Attempt: 1}
	for _, def := range All() {
		prompt := def.Prompt(in)
		for _, f := range def.Rubric().Required {
			if !strings.Contains(prompt, f.Name) {
				t.Errorf("phase %s prompt does not mention rubric field %q", def.Phase(), f.Name)
			}
		}
	}
}

func TestPromptIncludesFeedbackAndInstructions(t *testing.T) {
	def, err := Get(types.PhaseValidation)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	in := Input{
		Idea:         "a carpool app",
		RefinedIdea:  "district-coordinated carpools with verified drivers",
		Prior:        json.RawMessage(`{"refined_idea":"district-coordinated carpools"}`),
		Feedback:     "- market_evidence: field is empty",
		Instructions: "focus on districts under 500 students",
		Attempt:      2,
	}
	prompt := def.Prompt(in)

	for _, want := range []string{
		"district-coordinated carpools with verified drivers",
		"market_evidence: field is empty",
		"under 500 students",
		`"refined_idea"`,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "Idea: a carpool app\n") {
		t.Error("prompt should prefer the refined idea over the raw one")
	}
}

func TestFirstAttemptPromptOmitsFeedbackSections(t *testing.T) {
	def, _ := Get(types.PhaseIdeation)
	prompt := def.Prompt(Input{Idea: "a carpool app", Attempt: 1})
	if strings.Contains(prompt, "previous attempt") {
		t.Error("first attempt should not reference prior feedback")
	}
	if strings.Contains(prompt, "revision instructions") {
		t.Error("first attempt should not reference operator instructions")
	}
}
