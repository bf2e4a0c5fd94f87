package loader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(nil)
	require.NoError(t, err)
	assert.Equal(t, "json", f.Type)

	f, err = ParseFormat(map[string]any{"type": "dsv", "delimiter": "|", "parse": "auto"})
	require.NoError(t, err)
	assert.Equal(t, "|", f.Delimiter)
	assert.Equal(t, "auto", f.Parse)

	_, err = ParseFormat(map[string]any{"type": "topojson", "feature": "counties"})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ParseFormat(map[string]any{"type": "dsv"})
	assert.Error(t, err)

	_, err = ParseFormat(map[string]any{"parse": "sometimes"})
	assert.Error(t, err)
}

func TestDecode_JSONProperty(t *testing.T) {
	body := []byte(`{"payload":{"rows":[{"a":1},{"a":2},3]}}`)
	rows, err := Decode(body, Format{Type: "json", Property: "payload.rows"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"a": 1.0}, {"a": 2.0}, {"data": 3.0}}, rows)

	_, err = Decode(body, Format{Type: "json", Property: "payload.rows.x"})
	assert.Error(t, err)
}

func TestDecode_CSVWithParse(t *testing.T) {
	body := []byte("name,score,passed,when\nann,1.5,true,2020-01-02\nbob,,false,\n")
	f := Format{Type: "csv", Parse: map[string]any{"score": "number", "passed": "boolean", "when": "date"}}

	rows, err := Decode(body, f)
	require.NoError(t, err)
	require.NoError(t, ApplyParse(rows, f, time.UTC))

	want := []map[string]any{
		{"name": "ann", "score": 1.5, "passed": true, "when": millis(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC))},
		{"name": "bob", "score": nil, "passed": false, "when": nil},
	}
	assert.Equal(t, want, rows)
}

func TestDecode_TSVWithoutParseKeepsStrings(t *testing.T) {
	rows, err := Decode([]byte("a\tb\n1\tx\n"), Format{Type: "tsv"})
	require.NoError(t, err)
	require.NoError(t, ApplyParse(rows, Format{Type: "tsv"}, time.UTC))
	assert.Equal(t, []map[string]any{{"a": "1", "b": "x"}}, rows)
}

func TestApplyParse_Auto(t *testing.T) {
	rows, err := Decode([]byte("n,flag,label,day\n1,true,x,2021-03-04\n2.5,false,3,\n"), Format{Type: "csv"})
	require.NoError(t, err)
	require.NoError(t, ApplyParse(rows, Format{Type: "csv", Parse: "auto"}, time.UTC))

	assert.Equal(t, 1.0, rows[0]["n"])
	assert.Equal(t, 2.5, rows[1]["n"])
	assert.Equal(t, true, rows[0]["flag"])
	assert.Equal(t, "x", rows[0]["label"])
	assert.Equal(t, "3", rows[1]["label"])
	assert.Equal(t, millis(time.Date(2021, 3, 4, 0, 0, 0, 0, time.UTC)), rows[0]["day"])
	assert.Nil(t, rows[1]["day"])
}

func TestApplyParse_UnknownType(t *testing.T) {
	rows := []map[string]any{{"a": "1"}}
	err := ApplyParse(rows, Format{Parse: map[string]any{"a": "decimal"}}, time.UTC)
	assert.Error(t, err)
}

func TestRows_CopiesInlineValues(t *testing.T) {
	values := []any{map[string]any{"a": 1.0}}
	rows, err := Rows(values, Format{Type: "json"})
	require.NoError(t, err)

	rows[0]["a"] = 2.0
	assert.Equal(t, 1.0, values[0].(map[string]any)["a"])

	rows, err = Rows("x,y\n1,2\n", Format{Type: "csv"})
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"x": "1", "y": "2"}}, rows)
}
