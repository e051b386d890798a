package score

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planwright/planwright/internal/types"
)

func schemaOf(names ...string) Schema {
	s := Schema{}
	for _, n := range names {
		s.Required = append(s.Required, Field{Name: n, Weight: 1})
	}
	return s
}

func TestScoreEmptySchemaAlways100(t *testing.T) {
	overall, dims := Score(json.RawMessage(`{"anything":"goes"}`), Schema{})
	assert.Equal(t, 100, overall)
	assert.Empty(t, dims)

	overall, _ = Score(json.RawMessage(`not json at all`), Schema{})
	assert.Equal(t, 100, overall)
}

func TestScoreNonObjectIsZero(t *testing.T) {
	for _, content := range []string{`"just a string"`, `[1,2,3]`, `42`, `null`, `garbage`} {
		overall, dims := Score(json.RawMessage(content), schemaOf("a"))
		assert.Equal(t, 0, overall, "content %s", content)
		assert.Len(t, dims, 1)
	}
}

func TestScorePartialFields(t *testing.T) {
	// a and c present, b is an empty string: 2 of 3 → floor(200/3) = 66
	content := json.RawMessage(`{"a":"yes","b":"","c":"also yes"}`)
	overall, dims := Score(content, schemaOf("a", "b", "c"))
	assert.Equal(t, 66, overall)

	require.Len(t, dims, 3)
	assert.Equal(t, 100, dims[0].Score)
	assert.Equal(t, 0, dims[1].Score)
	assert.Contains(t, dims[1].Feedback, `"b"`)
	assert.Equal(t, 100, dims[2].Score)
}

func TestScoreEmptyValues(t *testing.T) {
	content := json.RawMessage(`{"s":"  ","n":null,"arr":[],"obj":{},"zero":0,"f":false}`)
	// Whitespace-only strings, nulls, and empty collections are absent;
	// zero numbers and false booleans are present.
	overall, _ := Score(content, schemaOf("s", "n", "arr", "obj", "zero", "f"))
	assert.Equal(t, 2*100/6, overall)
}

func TestScoreIdempotent(t *testing.T) {
	content := json.RawMessage(`{"a":"x","b":"y"}`)
	schema := schemaOf("a", "b", "missing")
	first, _ := Score(content, schema)
	for i := 0; i < 10; i++ {
		again, _ := Score(content, schema)
		assert.Equal(t, first, again)
	}
}

func TestGradeProducesAutomatedRow(t *testing.T) {
	artifact := &types.PhaseArtifact{
		ID:      "art-1",
		RunID:   "run-1",
		Phase:   types.PhaseIdeation,
		Version: 1,
		Content: json.RawMessage(`{"summary":"an idea"}`),
	}
	qs := Grade(artifact, schemaOf("summary"))
	assert.Equal(t, 100, qs.Overall)
	assert.Equal(t, types.EvaluatorAutomated, qs.Evaluator)
	assert.Equal(t, "art-1", qs.ArtifactID)
	assert.NotEmpty(t, qs.ID)
}

func TestOverrideValidatesRange(t *testing.T) {
	artifact := &types.PhaseArtifact{ID: "art-1", RunID: "run-1", Phase: types.PhaseIdeation}

	qs, err := Override(artifact, "op-1", 85, "better than the rubric suggests")
	require.NoError(t, err)
	assert.Equal(t, types.EvaluatorHybrid, qs.Evaluator)
	assert.Equal(t, "op-1", qs.EvaluatorID)
	assert.Equal(t, 85, qs.Overall)

	_, err = Override(artifact, "op-1", 120, "")
	require.Error(t, err)
}

func TestFeedbackSummaryOnlyFailures(t *testing.T) {
	dims := []types.DimensionScore{
		{Dimension: "a", Score: 100},
		{Dimension: "b", Score: 0, Feedback: "required field \"b\" is missing or empty"},
	}
	summary := FeedbackSummary(dims)
	assert.Contains(t, summary, "b:")
	assert.NotContains(t, summary, "- a:")
}
