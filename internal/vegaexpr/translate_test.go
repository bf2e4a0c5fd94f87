package vegaexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strict equality", `datum.a === 'x'`, `datum.a == "x"`},
		{"strict inequality", `datum.a !== null`, `datum.a != null`},
		{"bracket field", `datum["IMDB Rating"] > 5`, `datum["IMDB Rating"] > 5`},
		{"unary plus on field", `isFinite(+datum["x"])`, `isFinite(toNumber(datum["x"]))`},
		{"binary plus untouched", `a + 1`, `a + 1`},
		{"unary plus on group", `+(a) * 2`, `toNumber((a)) * 2`},
		{"minus keeps spacing", `width-10`, `width - 10`},
		{"if is renamed", `if(a, 1, 2)`, `if_(a, 1, 2)`},
		{"leading dot number", `.5 * x`, `0.5 * x`},
		{"template markers escaped", `'${x}'`, `"$${x}"`},
		{"ternary", `a ? 'y' : 'n'`, `a ? "y" : "n"`},
		{"member access", `bins.start + bins.step`, `bins.start + bins.step`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Translate(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTranslate_Rejects(t *testing.T) {
	for _, in := range []string{
		``,
		`a & b`,
		`a | b`,
		`a << 2`,
		`a = 1`,
		`'unterminated`,
		`+`,
	} {
		_, err := Translate(in)
		assert.Error(t, err, "input %q", in)
	}
}
