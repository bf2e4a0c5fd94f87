package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestServer_Health(t *testing.T) {
	a, _ := SetupAppTest(t, TestConfig(t))
	h := a.Handler()

	rec, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, a.Runtime().ID(), body["runtime_id"])

	a.Runtime().Destroy()
	rec, body = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "destroyed", body["status"])
}

func TestServer_PreTransform(t *testing.T) {
	a, logs := SetupAppTest(t, TestConfig(t))
	h := a.Handler()

	spec := `{"data":[{"name":"t","values":[{"a":1},{"a":2},{"a":3}],"transform":[{"type":"filter","expr":"datum.a > 1"}]}]}`

	t.Run("object", func(t *testing.T) {
		rec, body := do(t, h, http.MethodPost, "/v1/pretransform", `{"spec":`+spec+`,"options":{"rowLimit":1}}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		data := body["spec"].(map[string]any)["data"].([]any)
		assert.Equal(t, []any{map[string]any{"a": 2.0}}, data[0].(map[string]any)["values"])
		warnings := body["warnings"].([]any)
		require.Len(t, warnings, 1)
		assert.Equal(t, "RowLimitExceeded", warnings[0].(map[string]any)["type"])
	})

	t.Run("string", func(t *testing.T) {
		quoted, err := json.Marshal(spec)
		require.NoError(t, err)
		rec, body := do(t, h, http.MethodPost, "/v1/pretransform", `{"spec":`+string(quoted)+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, []any{}, body["warnings"])
	})

	assert.Contains(t, logs.String(), "Request served.")
}

func TestServer_PreTransformErrors(t *testing.T) {
	a, _ := SetupAppTest(t, TestConfig(t))
	h := a.Handler()

	testCases := []struct {
		name     string
		body     string
		wantCode int
		wantKind string
	}{
		{"malformed document", `{"spec":{"data":23}}`, http.StatusBadRequest, "MalformedDocument"},
		{"cycle", `{"spec":{"data":[{"name":"a","source":"b"},{"name":"b","source":"a"}]}}`, http.StatusUnprocessableEntity, "CyclicDependency"},
		{"unknown source", `{"spec":{"data":[{"name":"a","source":"nope"}]}}`, http.StatusUnprocessableEntity, "UnresolvedReference"},
		{"bad time zone", `{"spec":{},"options":{"localTimeZone":"Nowhere/Void"}}`, http.StatusBadRequest, "MalformedDocument"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(t, h, http.MethodPost, "/v1/pretransform", tc.body)
			assert.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tc.wantKind, body["kind"])
		})
	}

	rec, body := do(t, h, http.MethodPost, "/v1/pretransform", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid request body", body["error"])

	rec, _ = do(t, h, http.MethodPost, "/v1/pretransform", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_FileDataset(t *testing.T) {
	cfg := TestConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "points.csv"), []byte("u\n1\n2\n3\n"), 0o644))
	a, _ := SetupAppTest(t, cfg)

	rec, body := do(t, a.Handler(), http.MethodPost, "/v1/pretransform",
		`{"spec":{"data":[{"name":"p","url":"points.csv","format":{"type":"csv","parse":{"u":"number"}}}]}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data := body["spec"].(map[string]any)["data"].([]any)
	assert.Equal(t, []any{
		map[string]any{"u": 1.0},
		map[string]any{"u": 2.0},
		map[string]any{"u": 3.0},
	}, data[0].(map[string]any)["values"])
}

func TestServer_Patch(t *testing.T) {
	a, _ := SetupAppTest(t, TestConfig(t))
	h := a.Handler()

	rec, body := do(t, h, http.MethodPost, "/v1/patch",
		`{"oldSpec":{"width":100,"height":200},"oldResult":{"width":100,"height":150},"newSpec":{"width":150,"height":200}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["patched"])
	assert.Equal(t, map[string]any{"width": 150.0, "height": 150.0}, body["spec"])

	rec, body = do(t, h, http.MethodPost, "/v1/patch",
		`{"oldSpec":{"data":[{"name":"foo"}]},"oldResult":{"data":[{"name":"foo"}]},"newSpec":{"data":[{"name":"bar"}]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["patched"])
	assert.Nil(t, body["spec"])

	rec, _ = do(t, h, http.MethodPost, "/v1/patch", `{"oldSpec":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	a, _ := SetupAppTest(t, TestConfig(t))
	h := a.Handler()

	for i := 0; i < 2; i++ {
		rec, _ := do(t, h, http.MethodPost, "/v1/pretransform", `{"spec":{"width":10}}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, "vegaprecompute_cache_hits_total 1")
	assert.Contains(t, text, "vegaprecompute_cache_misses_total 1")
	assert.Contains(t, text, `vegaprecompute_http_requests_total{method="POST",path="/v1/pretransform",status="200"} 2`)
	assert.Contains(t, text, "go_goroutines")
}
