package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeBins_Defaults(t *testing.T) {
	bins, err := ComputeBins(0, 10, BinOptions{})
	require.NoError(t, err)
	assert.Equal(t, Bins{Start: 0, Stop: 10, Step: 0.5, N: 20}, bins)
}

func TestComputeBins_Options(t *testing.T) {
	bins, err := ComputeBins(0, 10, BinOptions{MaxBins: 5})
	require.NoError(t, err)
	assert.Equal(t, 2.0, bins.Step)
	assert.Equal(t, 5, bins.N)

	bins, err = ComputeBins(0, 10, BinOptions{Step: 3})
	require.NoError(t, err)
	assert.Equal(t, Bins{Start: 0, Stop: 12, Step: 3, N: 4}, bins)

	bins, err = ComputeBins(0, 10, BinOptions{Steps: []float64{1, 5, 10}, MaxBins: 4})
	require.NoError(t, err)
	assert.Equal(t, 5.0, bins.Step)

	anchor := 1.0
	bins, err = ComputeBins(0, 10, BinOptions{Step: 2, Anchor: &anchor})
	require.NoError(t, err)
	assert.Equal(t, 1.0, bins.Start)
	assert.Equal(t, 11.0, bins.Stop)

	// A degenerate extent still yields one bin.
	bins, err = ComputeBins(0, 0, BinOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, bins.Start)
	assert.Greater(t, bins.Stop, bins.Start)
}

func TestComputeBins_InvertedExtent(t *testing.T) {
	_, err := ComputeBins(5, 1, BinOptions{})
	assert.ErrorContains(t, err, "extent[1] must be greater than extent[0]")
}

func TestBins_Assign(t *testing.T) {
	bins := Bins{Start: 0, Stop: 10, Step: 0.5, N: 20}

	testCases := []struct {
		x      float64
		want   float64
		inside bool
	}{
		{0, 0, true},
		{3.2, 3, true},
		{9.99, 9.5, true},
		{10, 9.5, true},
		{-0.1, 0, false},
		{10.6, 0, false},
	}
	for _, tc := range testCases {
		got, ok := bins.Assign(tc.x)
		assert.Equal(t, tc.inside, ok, "x=%v", tc.x)
		if tc.inside {
			assert.Equal(t, tc.want, got, "x=%v", tc.x)
		}
	}
}

func TestBin_WritesBoundariesAndSignal(t *testing.T) {
	in := []Row{{"v": 0.0}, {"v": 10.0}, {"v": 3.2}, {"v": "n/a"}, {"v": 12.0}}
	doc := pipelineDoc(`[{"type":"bin","field":"v","extent":[0,10],"signal":"bins"}]`)
	env := newEnv(nil)

	out, err := runSteps(t, doc, in, env)
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"v": 0.0, "bin0": 0.0, "bin1": 0.5},
		{"v": 10.0, "bin0": 9.5, "bin1": 10.0},
		{"v": 3.2, "bin0": 3.0, "bin1": 3.5},
		{"v": "n/a", "bin0": nil, "bin1": nil},
		{"v": 12.0, "bin0": nil, "bin1": nil},
	}, out)
	assert.NotContains(t, in[0], "bin0", "input rows are not modified")

	assert.Equal(t, map[string]any{
		"fields": []any{"v"},
		"fname":  "bin_v",
		"start":  0.0,
		"step":   0.5,
		"stop":   10.0,
	}, env.Declared()["bins"])
}

func TestBin_IntervalAndName(t *testing.T) {
	doc := pipelineDoc(`[{"type":"bin","field":"v","extent":[0,10],"interval":false,"name":"price_bins","signal":"bins"}]`)
	env := newEnv(nil)

	out, err := runSteps(t, doc, []Row{{"v": 3.2}, {"v": nil}}, env)
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{"v": 3.2, "bin0": 3.0},
		{"v": nil, "bin0": nil},
	}, out)
	assert.Equal(t, "price_bins", env.Declared()["bins"].(map[string]any)["fname"])
}

func TestBin_ExtentFromEarlierStep(t *testing.T) {
	in := []Row{{"v": 2.0}, {"v": 4.0}, {"v": 6.0}}
	doc := pipelineDoc(`[
		{"type":"extent","field":"v","signal":"ext"},
		{"type":"bin","field":"v","extent":{"signal":"ext"},"maxbins":4,"as":["lo","hi"]}
	]`)
	env := newEnv(nil)

	out, err := runSteps(t, doc, in, env)
	require.NoError(t, err)
	assert.Equal(t, []any{2.0, 6.0}, env.Declared()["ext"])

	var starts []any
	for _, row := range out {
		starts = append(starts, row["lo"])
	}
	assert.Equal(t, []any{2.0, 4.0, 5.0}, starts)
}

func TestBin_InvertedExtentFails(t *testing.T) {
	doc := pipelineDoc(`[{"type":"bin","field":"v","extent":[5,1]}]`)
	_, err := runSteps(t, doc, []Row{{"v": 2.0}}, newEnv(nil))
	assert.ErrorContains(t, err, "extent[1] must be greater than extent[0]")
}
