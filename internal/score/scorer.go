// Package score computes deterministic quality scores for phase artifacts
// against a phase's required-field schema. Scoring is side-effect free and
// reproducible: the same artifact and schema always yield the same score.
package score

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/planwright/planwright/internal/types"
)

// Field is one required schema field, optionally weighted
type Field struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Schema is the required-field schema for one phase's artifact content
type Schema struct {
	Required []Field `json:"required" yaml:"required"`
}

// Score grades artifact content against the schema.
// overall = floor(100 × present-and-non-empty required fields / total required),
// clamped to [0,100]. An empty schema always scores 100; content that is not a
// JSON object scores 0.
func Score(content json.RawMessage, schema Schema) (int, []types.DimensionScore) {
	if len(schema.Required) == 0 {
		return 100, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(content, &obj); err != nil || obj == nil {
		dims := make([]types.DimensionScore, 0, len(schema.Required))
		for _, f := range schema.Required {
			dims = append(dims, types.DimensionScore{
				Dimension: f.Name,
				Weight:    f.Weight,
				Score:     0,
				Feedback:  "artifact content is not a structured object",
			})
		}
		return 0, dims
	}

	present := 0
	dims := make([]types.DimensionScore, 0, len(schema.Required))
	for _, f := range schema.Required {
		dim := types.DimensionScore{Dimension: f.Name, Weight: f.Weight}
		if fieldPresent(obj, f.Name) {
			present++
			dim.Score = 100
		} else {
			dim.Score = 0
			dim.Feedback = fmt.Sprintf("required field %q is missing or empty", f.Name)
		}
		dims = append(dims, dim)
	}

	overall := present * 100 / len(schema.Required)
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}
	return overall, dims
}

// fieldPresent reports whether the field exists and carries a non-empty value
func fieldPresent(obj map[string]json.RawMessage, name string) bool {
	raw, ok := obj[name]
	if !ok {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []interface{}:
		return len(val) > 0
	case map[string]interface{}:
		return len(val) > 0
	default:
		// numbers and booleans count as present
		return true
	}
}

// Grade produces the automated QualityScore row for an artifact version
func Grade(artifact *types.PhaseArtifact, schema Schema) *types.QualityScore {
	overall, dims := Score(artifact.Content, schema)
	return &types.QualityScore{
		ID:         uuid.New().String(),
		ArtifactID: artifact.ID,
		RunID:      artifact.RunID,
		Phase:      artifact.Phase,
		Overall:    overall,
		Dimensions: dims,
		Evaluator:  types.EvaluatorAutomated,
		CreatedAt:  time.Now().UTC(),
	}
}

// Override produces the operator-supplied QualityScore row in hybrid mode.
// The automated row is retained; this row supersedes it for gating purposes.
func Override(artifact *types.PhaseArtifact, operatorID string, overall int, feedback string) (*types.QualityScore, error) {
	if overall < 0 || overall > 100 {
		return nil, fmt.Errorf("override score must be in [0,100] (got %d)", overall)
	}
	qs := &types.QualityScore{
		ID:          uuid.New().String(),
		ArtifactID:  artifact.ID,
		RunID:       artifact.RunID,
		Phase:       artifact.Phase,
		Overall:     overall,
		Evaluator:   types.EvaluatorHybrid,
		EvaluatorID: operatorID,
		CreatedAt:   time.Now().UTC(),
	}
	if feedback != "" {
		qs.Dimensions = []types.DimensionScore{{Dimension: "operator", Weight: 1, Score: overall, Feedback: feedback}}
	}
	return qs, nil
}

// FeedbackSummary flattens failing dimensions into regeneration guidance
func FeedbackSummary(dims []types.DimensionScore) string {
	var b strings.Builder
	for _, d := range dims {
		if d.Feedback == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", d.Dimension, d.Feedback)
	}
	return b.String()
}
