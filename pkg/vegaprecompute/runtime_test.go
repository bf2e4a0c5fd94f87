package vegaprecompute

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/vegaprecompute/internal/loader"
)

const histogram = `{
	"$schema": "https://vega.github.io/schema/vega/v5.json",
	"width": 300,
	"data": [
		{"name": "points", "values": [{"u":1},{"u":2},{"u":3},{"u":4},{"u":5},{"u":6},{"u":7},{"u":8},{"u":9},{"u":10}]},
		{
			"name": "binned",
			"source": "points",
			"transform": [
				{"type": "extent", "field": "u", "signal": "u_extent"},
				{"type": "bin", "field": "u", "extent": {"signal": "u_extent"}, "maxbins": 10},
				{"type": "aggregate", "groupby": ["bin0", "bin1"]},
				{"type": "filter", "expr": "datum.count > 0"}
			]
		}
	],
	"marks": [{"type": "rect", "from": {"data": "binned"}}]
}`

func newRuntime(t *testing.T, capacity int, memoryLimit int64, opts ...Option) *Runtime {
	t.Helper()
	all := append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithLoader(loader.New(loader.WithoutHTTP())),
		WithWorkers(4),
	}, opts...)
	r, err := New(capacity, memoryLimit, all...)
	require.NoError(t, err)
	t.Cleanup(r.Destroy)
	return r
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestPreTransform_HistogramWithRowLimit(t *testing.T) {
	r := newRuntime(t, 8, 1<<20)

	spec, warnings, err := r.PreTransform(context.Background(), histogram, PreTransformOptions{RowLimit: 3})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(spec), &out))
	assert.Equal(t, "https://vega.github.io/schema/vega/v5.json", out["$schema"])

	var ws []map[string]any
	require.NoError(t, json.Unmarshal([]byte(warnings), &ws))
	require.Len(t, ws, 1)
	assert.Equal(t, "RowLimitExceeded", ws[0]["type"])
	assert.Equal(t, "binned", ws[0]["datasetName"])
	assert.Equal(t, 3.0, ws[0]["limit"])
}

func TestPreTransform_MalformedDocument(t *testing.T) {
	r := newRuntime(t, 8, 1<<20)

	_, _, err := r.PreTransform(context.Background(), `{"data":23}`, PreTransformOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedDocument))
	assert.False(t, errors.Is(err, ErrTransformEvaluation))
	assert.Equal(t, KindMalformedDocument, KindOf(err))
}

func TestPreTransform_InvalidOptions(t *testing.T) {
	r := newRuntime(t, 8, 1<<20)

	_, _, err := r.PreTransform(context.Background(), `{}`, PreTransformOptions{LocalTimeZone: "Mars/Olympus_Mons"})
	assert.True(t, errors.Is(err, ErrMalformedDocument))

	_, _, err = r.PreTransform(context.Background(), `{}`, PreTransformOptions{RowLimit: -1})
	assert.True(t, errors.Is(err, ErrMalformedDocument))

	_, _, err = r.PreTransform(context.Background(), `{}`, PreTransformOptions{LocalTimeZone: "Europe/Berlin", DefaultInputTimeZone: "UTC"})
	assert.NoError(t, err)
}

func TestPreTransform_UsesCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newRuntime(t, 8, 1<<20, WithRegisterer(reg))

	first, _, err := r.PreTransform(context.Background(), histogram, PreTransformOptions{})
	require.NoError(t, err)
	second, _, err := r.PreTransform(context.Background(), histogram, PreTransformOptions{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, counterValue(t, reg, "vegaprecompute_cache_misses_total"))
	assert.Equal(t, 1.0, counterValue(t, reg, "vegaprecompute_cache_hits_total"))

	// A different context is a different fingerprint.
	_, _, err = r.PreTransform(context.Background(), histogram, PreTransformOptions{RowLimit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2.0, counterValue(t, reg, "vegaprecompute_cache_misses_total"))
}

func TestPreTransform_DisabledCache(t *testing.T) {
	r := newRuntime(t, 0, 0)

	first, _, err := r.PreTransform(context.Background(), histogram, PreTransformOptions{})
	require.NoError(t, err)
	second, _, err := r.PreTransform(context.Background(), histogram, PreTransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPreTransform_ErrorsDoNotPoisonRuntime(t *testing.T) {
	r := newRuntime(t, 8, 1<<20)

	_, _, err := r.PreTransform(context.Background(), `{"data":[{"name":"a","source":"b"},{"name":"b","source":"a"}]}`, PreTransformOptions{})
	assert.True(t, errors.Is(err, ErrCyclicDependency))

	_, _, err = r.PreTransform(context.Background(), histogram, PreTransformOptions{})
	assert.NoError(t, err)
}

func TestPatch(t *testing.T) {
	r := newRuntime(t, 8, 1<<20)

	t.Run("resize", func(t *testing.T) {
		out, ok, err := r.Patch(context.Background(), `{"width":100,"height":200}`, `{"width":100,"height":150}`, `{"width":150,"height":200}`)
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"width":150,"height":150}`, out)
	})

	t.Run("dataset change", func(t *testing.T) {
		out, ok, err := r.Patch(context.Background(), `{"data":[{"name":"foo"}]}`, `{"data":[{"name":"foo"}]}`, `{"data":[{"name":"bar"}]}`)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, out)
	})

	t.Run("malformed", func(t *testing.T) {
		_, ok, err := r.Patch(context.Background(), `{"data":23}`, `{}`, `{}`)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, ErrMalformedDocument))
	})
}

func TestPatch_MatchesFullEvaluation(t *testing.T) {
	r := newRuntime(t, 8, 1<<20)
	resized := strings.Replace(histogram, `"width": 300`, `"width": 600`, 1)
	require.NotEqual(t, histogram, resized)

	oldResult, _, err := r.PreTransform(context.Background(), histogram, PreTransformOptions{})
	require.NoError(t, err)
	patched, ok, err := r.Patch(context.Background(), histogram, oldResult, resized)
	require.NoError(t, err)
	require.True(t, ok)

	full, _, err := r.PreTransform(context.Background(), resized, PreTransformOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, full, patched)
}

func TestPatch_DerivedBuiltinSignalNeedsEvaluation(t *testing.T) {
	r := newRuntime(t, 8, 1<<20)
	before := `{"width":100,"signals":[{"name":"half","update":"width / 2"}]}`
	after := `{"width":200,"signals":[{"name":"half","update":"width / 2"}]}`

	oldResult, _, err := r.PreTransform(context.Background(), before, PreTransformOptions{})
	require.NoError(t, err)
	full, _, err := r.PreTransform(context.Background(), after, PreTransformOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"width":200,"signals":[{"name":"half","value":100}]}`, full)

	patched, ok, err := r.Patch(context.Background(), before, oldResult, after)
	require.NoError(t, err)
	if ok {
		assert.JSONEq(t, full, patched)
	}
	assert.False(t, ok, "a stale collapsed signal must not be patched")
}

func TestDestroy(t *testing.T) {
	r, err := New(8, 1<<20, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	assert.Equal(t, StateActive, r.State())
	assert.NotEmpty(t, r.ID())

	_, _, err = r.PreTransform(context.Background(), `{}`, PreTransformOptions{})
	require.NoError(t, err)

	r.Destroy()
	r.Destroy()
	assert.Equal(t, StateDestroyed, r.State())

	_, _, err = r.PreTransform(context.Background(), `{}`, PreTransformOptions{})
	assert.True(t, errors.Is(err, ErrDestroyed))
	assert.Equal(t, KindState, KindOf(err))

	_, _, err = r.Patch(context.Background(), `{}`, `{}`, `{}`)
	assert.True(t, errors.Is(err, ErrDestroyed))
}

func TestRuntime_ConcurrentUseAndDestroy(t *testing.T) {
	r, err := New(4, 1<<20, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithWorkers(2))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := r.PreTransform(context.Background(), histogram, PreTransformOptions{RowLimit: i % 3})
			if err != nil {
				assert.True(t, errors.Is(err, ErrDestroyed), "unexpected error: %v", err)
			}
		}(i)
	}
	r.Destroy()
	wg.Wait()

	assert.Equal(t, StateDestroyed, r.State())
}

// gatedLoader blocks every load until release is closed, honouring ctx the
// way a network loader would.
type gatedLoader struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *gatedLoader) CanLoad(string) bool { return true }

func (l *gatedLoader) Load(ctx context.Context, _ string) ([]byte, error) {
	l.once.Do(func() { close(l.entered) })
	select {
	case <-l.release:
		return []byte(`[{"v":1},{"v":2}]`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestPreTransform_SharedEvaluationSurvivesCallerCancellation(t *testing.T) {
	ld := &gatedLoader{entered: make(chan struct{}), release: make(chan struct{})}
	r := newRuntime(t, 8, 1<<20, WithLoader(ld))
	spec := `{"data":[{"name":"remote","url":"https://example.com/v.json","transform":[{"type":"filter","expr":"datum.v > 1"}]}]}`

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	type outcome struct {
		spec string
		err  error
	}
	first := make(chan outcome, 1)
	second := make(chan outcome, 1)

	go func() {
		out, _, err := r.PreTransform(firstCtx, spec, PreTransformOptions{})
		first <- outcome{out, err}
	}()
	<-ld.entered

	go func() {
		out, _, err := r.PreTransform(context.Background(), spec, PreTransformOptions{})
		second <- outcome{out, err}
	}()
	// Let the second call join the in-flight evaluation before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	time.Sleep(10 * time.Millisecond)
	close(ld.release)

	for _, ch := range []chan outcome{first, second} {
		res := <-ch
		require.NoError(t, res.err)
		assert.JSONEq(t, `{"data":[{"name":"remote","values":[{"v":2}]}]}`, res.spec)
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	newRuntime(t, 1, 1024, WithRegisterer(reg))

	_, err := New(1, 1024, WithRegisterer(reg))
	assert.Error(t, err)
}
