package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/vegaprecompute/internal/specmodel"
	"github.com/vk/vegaprecompute/internal/verr"
)

// steps parses a document and returns the pipeline of dataset "d".
func steps(t *testing.T, doc string) []*specmodel.Transform {
	t.Helper()
	spec, err := specmodel.Parse([]byte(doc))
	require.NoError(t, err)
	d, ok := spec.Dataset("d")
	require.True(t, ok)
	return d.Transforms
}

// pipelineDoc wraps a transform array in a one-dataset document.
func pipelineDoc(transforms string) string {
	return `{"data":[{"name":"d","values":[],"transform":` + transforms + `}]}`
}

func runSteps(t *testing.T, doc string, in []Row, env *Env) ([]Row, error) {
	t.Helper()
	for _, step := range steps(t, doc) {
		require.NoError(t, Check(step))
		out, err := Run(context.Background(), step, in, env)
		if err != nil {
			return nil, err
		}
		in = out
	}
	return in, nil
}

func newEnv(signals map[string]any) *Env {
	return NewEnv(signals, nil, time.UTC, time.UTC)
}

func TestCheck(t *testing.T) {
	testCases := []struct {
		name       string
		transforms string
		wantErr    string
	}{
		{"supported", `[{"type":"extent","field":"v","signal":"e"}]`, ""},
		{"unknown type", `[{"type":"force","iterations":10}]`, `transform type "force" is not supported`},
		{"unknown parameter", `[{"type":"extent","field":"v","signal":"e","foo":1}]`, `extent parameter "foo" is not supported`},
		{"unknown op", `[{"type":"aggregate","ops":["argmedian"],"fields":["v"]}]`, `aggregate op "argmedian" is not supported`},
		{"unknown unit", `[{"type":"timeunit","field":"t","units":["week"]}]`, `time unit "week" is not supported`},
		{"unknown window op", `[{"type":"window","ops":["ratio"]}]`, `window op "ratio" is not supported`},
		{"unknown stack offset", `[{"type":"stack","offset":"wiggle"}]`, `stack offset "wiggle" is not supported`},
		{"unknown pivot op", `[{"type":"pivot","field":"k","value":"v","op":"ratio"}]`, `pivot op "ratio" is not supported`},
		{"unknown impute method", `[{"type":"impute","field":"y","key":"x","method":"mode"}]`, `impute method "mode" is not supported`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Check(steps(t, pipelineDoc(tc.transforms))[0])
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tc.wantErr)
		})
	}
}

func TestSupported(t *testing.T) {
	assert.Equal(t, []string{
		"aggregate", "bin", "collect", "extent", "filter", "fold", "formula",
		"identifier", "impute", "joinaggregate", "lookup", "pivot", "project",
		"sequence", "stack", "timeunit", "window",
	}, Supported())
}

func TestRun_ResolvesSignalParameters(t *testing.T) {
	doc := `{
		"signals": [{"name": "cutoff", "value": 2}],
		"data": [{"name": "d", "values": [], "transform": [
			{"type": "sequence", "start": 0, "stop": {"signal": "cutoff * 2"}}
		]}]
	}`
	out, err := runSteps(t, doc, nil, newEnv(map[string]any{"cutoff": 2.0}))
	require.NoError(t, err)
	assert.Equal(t, []Row{{"data": 0.0}, {"data": 1.0}, {"data": 2.0}, {"data": 3.0}}, out)
}

func TestRun_ErrorsAreTransformErrors(t *testing.T) {
	in := []Row{{"v": 1.0}}
	_, err := runSteps(t, pipelineDoc(`[{"type":"filter","expr":"datum.v"}]`), in, newEnv(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, verr.ErrTransformEvaluation)
	assert.Contains(t, err.Error(), "want boolean")
}

func TestParams_DecodeFieldReference(t *testing.T) {
	var params extentParams
	err := Params{Raw: map[string]any{"field": map[string]any{"field": "price"}, "signal": "e"}}.Decode(&params)
	require.NoError(t, err)
	assert.Equal(t, "price", params.Field)
}

func TestEnv_SetSignalIsVisibleToLaterSteps(t *testing.T) {
	env := newEnv(map[string]any{"a": 1.0})
	s1, err := env.Scope()
	require.NoError(t, err)

	env.SetSignal("a", 2.0)
	s2, err := env.Scope()
	require.NoError(t, err)
	assert.NotSame(t, s1, s2)
	assert.Equal(t, map[string]any{"a": 2.0}, env.Declared())
}
