// Package phase defines the closed set of pipeline phases. Each phase bundles
// its generation prompt, its scoring rubric, and the shape of artifact it
// produces; the pipeline selects the variant by phase id and drives every
// phase through the same interface.
package phase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planwright/planwright/internal/score"
	"github.com/planwright/planwright/internal/types"
)

// Input carries everything a phase needs to build its generation prompt
type Input struct {
	Idea         string
	RefinedIdea  string
	Prior        json.RawMessage // latest approved artifact of the predecessor phase
	Feedback     string          // scorer or reviewer feedback from the previous attempt
	Instructions string          // operator revision instructions, if any
	Attempt      int             // 1-based generation attempt within this phase
}

// Definition is one phase variant. Implementations are stateless; all five
// live in this package and no other variants exist.
type Definition interface {
	// Phase returns the pipeline phase this definition implements
	Phase() types.Phase
	// Prompt renders the generation prompt for the given input
	Prompt(in Input) string
	// Rubric returns the scoring schema the phase's artifacts are graded against
	Rubric() score.Schema
}

var registry = map[types.Phase]Definition{
	types.PhaseIdeation:     ideation{},
	types.PhaseValidation:   validation{},
	types.PhaseArchitecture: architecture{},
	types.PhaseBlueprint:    blueprint{},
	types.PhaseTasking:      tasking{},
}

// Get returns the definition for a phase
func Get(p types.Phase) (Definition, error) {
	def, ok := registry[p]
	if !ok {
		return nil, fmt.Errorf("unknown phase: %s", p)
	}
	return def, nil
}

// All returns the definitions in pipeline order
func All() []Definition {
	defs := make([]Definition, 0, len(types.PhaseOrder))
	for _, p := range types.PhaseOrder {
		defs = append(defs, registry[p])
	}
	return defs
}

// preamble is shared prompt scaffolding. Every phase asks for a single JSON
// object and nothing else, so the scorer can parse the output directly.
func preamble(role string) string {
	return fmt.Sprintf(`You are %s working inside a staged planning pipeline.
Respond with a single JSON object and no surrounding prose. Every required
field must be present and substantive; empty strings or empty arrays count
as missing.`, role)
}

func appendContext(b *strings.Builder, in Input) {
	if len(in.Prior) > 0 {
		b.WriteString("\n\nOutput of the previous phase:\n")
		b.Write(in.Prior)
	}
	if in.Feedback != "" {
		fmt.Fprintf(b, "\n\nFeedback on your previous attempt (#%d). Address every point:\n%s", in.Attempt-1, in.Feedback)
	}
	if in.Instructions != "" {
		fmt.Fprintf(b, "\n\nOperator revision instructions. These take priority:\n%s", in.Instructions)
	}
}

type ideation struct{}

func (ideation) Phase() types.Phase { return types.PhaseIdeation }

func (ideation) Rubric() score.Schema {
	return score.Schema{Required: []score.Field{
		{Name: "refined_idea", Weight: 0.3},
		{Name: "target_users", Weight: 0.2},
		{Name: "value_proposition", Weight: 0.2},
		{Name: "differentiators", Weight: 0.15},
		{Name: "risks", Weight: 0.15},
	}}
}

func (ideation) Prompt(in Input) string {
	var b strings.Builder
	b.WriteString(preamble("a product strategist"))
	fmt.Fprintf(&b, `

Refine the following raw idea into a concrete product concept.

Idea: %s

Required JSON fields:
  "refined_idea":      one-paragraph sharpened statement of the concept
  "target_users":      array of specific user segments
  "value_proposition": why those users would switch to this
  "differentiators":   array of concrete advantages over existing options
  "risks":             array of the biggest ways this fails`, in.Idea)
	appendContext(&b, in)
	return b.String()
}

type validation struct{}

func (validation) Phase() types.Phase { return types.PhaseValidation }

func (validation) Rubric() score.Schema {
	return score.Schema{Required: []score.Field{
		{Name: "market_evidence", Weight: 0.25},
		{Name: "competitor_analysis", Weight: 0.2},
		{Name: "riskiest_assumptions", Weight: 0.25},
		{Name: "validation_plan", Weight: 0.2},
		{Name: "recommendation", Weight: 0.1},
	}}
}

func (validation) Prompt(in Input) string {
	var b strings.Builder
	b.WriteString(preamble("a market analyst"))
	fmt.Fprintf(&b, `

Assess whether the refined concept below is worth building.

Concept: %s

Required JSON fields:
  "market_evidence":      concrete signals the demand exists
  "competitor_analysis":  array of competitors with their weaknesses
  "riskiest_assumptions": array of assumptions that would sink the concept if wrong
  "validation_plan":      cheapest experiments to test those assumptions
  "recommendation":       "proceed", "pivot", or "stop", with rationale`, idea(in))
	appendContext(&b, in)
	return b.String()
}

type architecture struct{}

func (architecture) Phase() types.Phase { return types.PhaseArchitecture }

func (architecture) Rubric() score.Schema {
	return score.Schema{Required: []score.Field{
		{Name: "components", Weight: 0.3},
		{Name: "data_model", Weight: 0.25},
		{Name: "technology_choices", Weight: 0.2},
		{Name: "integration_points", Weight: 0.15},
		{Name: "scaling_considerations", Weight: 0.1},
	}}
}

func (architecture) Prompt(in Input) string {
	var b strings.Builder
	b.WriteString(preamble("a software architect"))
	fmt.Fprintf(&b, `

Design the system architecture for the validated concept below.

Concept: %s

Required JSON fields:
  "components":             array of components with responsibilities
  "data_model":             core entities and their relationships
  "technology_choices":     stack selections with one-line justifications
  "integration_points":     external systems and how they connect
  "scaling_considerations": where load concentrates and how to absorb it`, idea(in))
	appendContext(&b, in)
	return b.String()
}

type blueprint struct{}

func (blueprint) Phase() types.Phase { return types.PhaseBlueprint }

func (blueprint) Rubric() score.Schema {
	return score.Schema{Required: []score.Field{
		{Name: "modules", Weight: 0.3},
		{Name: "interfaces", Weight: 0.25},
		{Name: "milestones", Weight: 0.2},
		{Name: "dependencies", Weight: 0.15},
		{Name: "acceptance_criteria", Weight: 0.1},
	}}
}

func (blueprint) Prompt(in Input) string {
	var b strings.Builder
	b.WriteString(preamble("a technical lead"))
	fmt.Fprintf(&b, `

Turn the architecture below into a build blueprint.

Concept: %s

Required JSON fields:
  "modules":             array of buildable modules mapped to architecture components
  "interfaces":          contracts between modules (exports, endpoints, env vars)
  "milestones":          ordered delivery milestones
  "dependencies":        which modules block which
  "acceptance_criteria": how each milestone is judged done`, idea(in))
	appendContext(&b, in)
	return b.String()
}

type tasking struct{}

func (tasking) Phase() types.Phase { return types.PhaseTasking }

func (tasking) Rubric() score.Schema {
	return score.Schema{Required: []score.Field{
		{Name: "tasks", Weight: 0.4},
		{Name: "ordering", Weight: 0.2},
		{Name: "estimates", Weight: 0.2},
		{Name: "skills_needed", Weight: 0.1},
		{Name: "definition_of_done", Weight: 0.1},
	}}
}

func (tasking) Prompt(in Input) string {
	var b strings.Builder
	b.WriteString(preamble("a delivery planner"))
	fmt.Fprintf(&b, `

Break the blueprint below into executable tasks.

Concept: %s

Required JSON fields:
  "tasks":              array of tasks, each scoped to at most a few days
  "ordering":           execution order respecting dependencies
  "estimates":          effort estimate per task
  "skills_needed":      roles or skills each task requires
  "definition_of_done": per-task completion criteria`, idea(in))
	appendContext(&b, in)
	return b.String()
}

// idea prefers the refined statement once ideation has produced one
func idea(in Input) string {
	if in.RefinedIdea != "" {
		return in.RefinedIdea
	}
	return in.Idea
}
