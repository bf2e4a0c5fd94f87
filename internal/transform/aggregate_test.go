package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupedRows = []Row{
	{"g": "a", "v": 1.0},
	{"g": "b", "v": 4.0},
	{"g": "a", "v": 3.0},
	{"g": "a", "v": nil},
}

func TestAggregate_GroupedMeasures(t *testing.T) {
	doc := pipelineDoc(`[{"type":"aggregate","groupby":["g"],
		"ops":["count","valid","missing","distinct","sum","mean","min","max","median","variance"],
		"fields":[null,"v","v","v","v","v","v","v","v","v"]}]`)

	out, err := runSteps(t, doc, groupedRows, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{
			"g":          "a", "count": 3.0, "valid_v": 2.0, "missing_v": 1.0, "distinct_v": 2.0,
			"sum_v":      4.0, "mean_v": 2.0, "min_v": 1.0, "max_v": 3.0, "median_v": 2.0,
			"variance_v": 2.0,
		},
		{
			"g":          "b", "count": 1.0, "valid_v": 1.0, "missing_v": 0.0, "distinct_v": 1.0,
			"sum_v":      4.0, "mean_v": 4.0, "min_v": 4.0, "max_v": 4.0, "median_v": 4.0,
			"variance_v": nil,
		},
	}, out)
}

func TestAggregate_RenamesAndArgmax(t *testing.T) {
	doc := pipelineDoc(`[{"type":"aggregate","ops":["argmax","q1","q3"],"fields":["v","v","v"],"as":["top"]}]`)

	out, err := runSteps(t, doc, groupedRows, newEnv(nil))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, Row{"g": "b", "v": 4.0}, out[0]["top"])
	assert.Equal(t, 2.0, out[0]["q1_v"])
	assert.Equal(t, 3.5, out[0]["q3_v"])
}

func TestAggregate_EmptyInputWithoutGroups(t *testing.T) {
	out, err := runSteps(t, pipelineDoc(`[{"type":"aggregate"}]`), nil, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []Row{{"count": 0.0}}, out)

	out, err = runSteps(t, pipelineDoc(`[{"type":"aggregate","groupby":["g"]}]`), nil, newEnv(nil))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestAggregate_OpWithoutField(t *testing.T) {
	_, err := runSteps(t, pipelineDoc(`[{"type":"aggregate","ops":["sum"]}]`), groupedRows, newEnv(nil))
	assert.ErrorContains(t, err, `aggregate op "sum" requires a field`)
}

func TestAggregate_Cross(t *testing.T) {
	in := []Row{
		{"c": "x", "k": 1.0, "v": 2.0},
		{"c": "y", "k": 2.0, "v": 3.0},
	}
	doc := pipelineDoc(`[{"type":"aggregate","groupby":["c","k"],"ops":["sum"],"fields":["v"],"cross":true,"drop":false}]`)

	out, err := runSteps(t, doc, in, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"c": "x", "k": 1.0, "sum_v": 2.0},
		{"c": "y", "k": 2.0, "sum_v": 3.0},
		{"c": "x", "k": 2.0, "sum_v": 0.0},
		{"c": "y", "k": 1.0, "sum_v": 0.0},
	}, out)
}

func TestAggregate_DropDoesNotChangeOneEvaluation(t *testing.T) {
	kept, err := runSteps(t, pipelineDoc(`[{"type":"aggregate","groupby":["g"],"drop":false}]`), groupedRows, newEnv(nil))
	require.NoError(t, err)
	dropped, err := runSteps(t, pipelineDoc(`[{"type":"aggregate","groupby":["g"],"drop":true}]`), groupedRows, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, dropped, kept)

	_, err = runSteps(t, pipelineDoc(`[{"type":"aggregate","groupby":["g"],"drop":"sometimes"}]`), groupedRows, newEnv(nil))
	assert.ErrorContains(t, err, "invalid parameters")
}

func TestAggregate_Key(t *testing.T) {
	in := []Row{
		{"id": 1.0, "name": "a", "v": 1.0},
		{"id": 2.0, "name": "b", "v": 2.0},
		{"id": 1.0, "name": "a", "v": 5.0},
	}
	doc := pipelineDoc(`[{"type":"aggregate","groupby":["id","name"],"key":"id","ops":["max"],"fields":["v"]}]`)

	out, err := runSteps(t, doc, in, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"id": 1.0, "name": "a", "max_v": 5.0},
		{"id": 2.0, "name": "b", "max_v": 2.0},
	}, out)
}

func TestJoinAggregate(t *testing.T) {
	doc := pipelineDoc(`[{"type":"joinaggregate","groupby":["g"],"ops":["sum"],"fields":["v"],"as":["total"]}]`)

	out, err := runSteps(t, doc, groupedRows, newEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"g": "a", "v": 1.0, "total": 4.0},
		{"g": "b", "v": 4.0, "total": 4.0},
		{"g": "a", "v": 3.0, "total": 4.0},
		{"g": "a", "v": nil, "total": 4.0},
	}, out)
}

func TestQuantile(t *testing.T) {
	xs := []float64{4, 1, 3, 2}
	assert.Equal(t, 2.5, quantile(xs, 0.5))
	assert.Equal(t, 1.75, quantile(xs, 0.25))
	assert.Equal(t, 3.25, quantile(xs, 0.75))
	assert.Equal(t, []float64{4, 1, 3, 2}, xs, "input is not reordered")
}
