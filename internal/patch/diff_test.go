package patch

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestDiff(t *testing.T) {
	a := decode(t, `{"width":100,"title":"x","axes":[{"grid":false}],"range":[1,2],"a/b":1}`)
	b := decode(t, `{"width":150,"axes":[{"grid":true}],"range":[1,2,3],"a/b":1,"padding":5}`)

	want := []Op{
		{Kind: OpReplace, Path: []string{"axes", "0", "grid"}, Value: true},
		{Kind: OpAdd, Path: []string{"padding"}, Value: 5.0},
		{Kind: OpReplace, Path: []string{"range"}, Value: []any{1.0, 2.0, 3.0}},
		{Kind: OpRemove, Path: []string{"title"}},
		{Kind: OpReplace, Path: []string{"width"}, Value: 150.0},
	}
	got, err := Diff(a, b)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_ResizedArrays(t *testing.T) {
	a := decode(t, `{"scales":[{"range":[1,2],"nice":false}],"axes":[{"a/b":1},{"x":2}]}`)
	b := decode(t, `{"scales":[{"range":[5,6,7],"nice":true}],"axes":[{"a/b":3}]}`)

	want := []Op{
		{Kind: OpReplace, Path: []string{"axes"}, Value: []any{map[string]any{"a/b": 3.0}}},
		{Kind: OpReplace, Path: []string{"scales", "0", "nice"}, Value: true},
		{Kind: OpReplace, Path: []string{"scales", "0", "range"}, Value: []any{5.0, 6.0, 7.0}},
	}
	got, err := Diff(a, b)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiff_EscapedKeys(t *testing.T) {
	got, err := Diff(decode(t, `{"config":{"a/b":1,"c~d":1}}`), decode(t, `{"config":{"a/b":2,"c~d":1}}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"config", "a/b"}, got[0].Path)
	assert.Equal(t, "/config/a~1b", got[0].Pointer())
}

func TestOp_Pointer(t *testing.T) {
	assert.Equal(t, "/marks/0/encode/a~1b/c~0d", Op{Path: []string{"marks", "0", "encode", "a/b", "c~d"}}.Pointer())
	assert.Equal(t, "", Op{}.Pointer())
}

func TestClassify(t *testing.T) {
	testCases := []struct {
		path  []string
		value any
		want  bool
	}{
		{[]string{"width"}, 10.0, true},
		{[]string{"padding", "left"}, 5.0, true},
		{[]string{"config", "axis", "labelFont"}, "serif", true},
		{[]string{"axes", "0", "labelAngle"}, 45.0, true},
		{[]string{"axes", "0", "scale"}, "y", false},
		{[]string{"marks", "1", "encode", "update", "fill", "value"}, "red", true},
		{[]string{"marks", "0", "marks", "2", "encode", "enter", "x", "value"}, 1.0, true},
		{[]string{"marks", "0", "encode", "enter", "x", "field"}, "a", false},
		{[]string{"scales", "0", "range", "1"}, 300.0, true},
		{[]string{"scales", "0", "range"}, map[string]any{"signal": "width"}, false},
		{[]string{"scales", "0", "domain", "1"}, 2.0, false},
		{[]string{"data", "0", "values"}, []any{}, false},
		{[]string{"signals", "0", "value"}, 1.0, false},
		{[]string{"legends", "0", "title"}, "L", false},
	}
	for _, tc := range testCases {
		op := Op{Kind: OpReplace, Path: tc.path, Value: tc.value}
		assert.Equal(t, tc.want, classify(op), op.Pointer())
	}
}

func TestArrayify(t *testing.T) {
	doc := map[string]any{
		"axes": map[string]any{"0": map[string]any{"grid": true}, "1": "b"},
		"keep": map[string]any{"0": 1.0},
	}
	model := map[string]any{"axes": []any{map[string]any{}, "b"}, "keep": map[string]any{}}

	arrayify(doc, model)

	assert.Equal(t, []any{map[string]any{"grid": true}, "b"}, doc["axes"])
	assert.Equal(t, map[string]any{"0": 1.0}, doc["keep"])
}
