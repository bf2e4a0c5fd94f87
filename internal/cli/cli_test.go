package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/vegaprecompute/pkg/vegaprecompute"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := Execute(context.Background(), &out, &errOut, args)
	return out.String(), errOut.String(), err
}

func TestEval(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "chart.json", `{
		"data": [{"name": "t", "values": [{"a": 1}, {"a": 2}, {"a": 3}], "transform": [{"type": "filter", "expr": "datum.a >= 2"}]}]
	}`)

	out, _, err := execute(t, "eval", "-f", spec, "--row-limit", "1", "--log-level", "error")
	require.NoError(t, err)

	var res struct {
		Spec struct {
			Data []struct {
				Values []map[string]any `json:"values"`
			} `json:"data"`
		} `json:"spec"`
		Warnings []map[string]any `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Spec.Data, 1)
	assert.Equal(t, []map[string]any{{"a": 2.0}}, res.Spec.Data[0].Values)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "RowLimitExceeded", res.Warnings[0]["type"])
}

func TestEval_Stdin(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`{"height":5}`))
	cmd.SetArgs([]string{"eval", "-f", "-"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.JSONEq(t, `{"spec":{"height":5},"warnings":[]}`, out.String())
}

func TestEval_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "eval")
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitUsage, exitErr.Code)

	_, _, err = execute(t, "eval", "-f", filepath.Join(dir, "missing.json"))
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, ExitUsage, exitErr.Code)

	cyclic := writeFile(t, dir, "cycle.json", `{"data":[{"name":"a","source":"b"},{"name":"b","source":"a"}]}`)
	_, _, err = execute(t, "eval", "-f", cyclic)
	assert.True(t, errors.Is(err, vegaprecompute.ErrCyclicDependency))

	_, _, err = execute(t, "eval", "-f", cyclic, "--log-level", "loud")
	require.True(t, errors.As(err, &exitErr))
	assert.Contains(t, exitErr.Message, "log_level")
}

func TestPatch(t *testing.T) {
	dir := t.TempDir()
	oldSpec := writeFile(t, dir, "old.json", `{"width":100,"height":200}`)
	oldResult := writeFile(t, dir, "old.result.json", `{"width":100,"height":150}`)

	t.Run("patchable", func(t *testing.T) {
		newSpec := writeFile(t, dir, "new.json", `{"width":150,"height":200}`)
		out, _, err := execute(t, "patch", "--old", oldSpec, "--old-result", oldResult, "--new", newSpec)
		require.NoError(t, err)
		assert.JSONEq(t, `{"width":150,"height":150}`, out)
	})

	t.Run("not patchable", func(t *testing.T) {
		newSpec := writeFile(t, dir, "data.json", `{"width":100,"height":200,"data":[{"name":"x"}]}`)
		out, _, err := execute(t, "patch", "--old", oldSpec, "--old-result", oldResult, "--new", newSpec)
		var exitErr *ExitError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, ExitNotPatchable, exitErr.Code)
		assert.Empty(t, out)
	})

	t.Run("missing flag", func(t *testing.T) {
		_, _, err := execute(t, "patch", "--old", oldSpec)
		var exitErr *ExitError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, ExitUsage, exitErr.Code)
	})
}

func TestRoot_HelpListsCommands(t *testing.T) {
	out, _, err := execute(t)
	require.NoError(t, err)
	for _, name := range []string{"eval", "patch", "serve"} {
		assert.Contains(t, out, name)
	}
}

func TestTransforms(t *testing.T) {
	out, _, err := execute(t, "transforms")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "aggregate")
	assert.Contains(t, lines, "filter")
	assert.Contains(t, lines, "window")
	assert.NotContains(t, lines, "force")
}
