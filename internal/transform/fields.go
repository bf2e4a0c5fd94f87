package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// fieldValue reads a field, following dotted paths into nested objects when
// no key matches the name literally.
func fieldValue(row Row, name string) any {
	if v, ok := row[name]; ok {
		return v
	}
	if !strings.Contains(name, ".") {
		return nil
	}
	var cur any = row
	for _, part := range strings.Split(name, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[part]
	}
	return cur
}

// missing reports values Vega's aggregates count as missing.
func missing(v any) bool {
	s, isString := v.(string)
	return v == nil || (isString && s == "")
}

// number coerces a value to a finite float64.
func number(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case bool:
		if x {
			f = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// finite maps NaN and infinities to nil so results stay JSON-encodable.
func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func clone(row Row) Row {
	out := make(Row, len(row)+2)
	for k, v := range row {
		out[k] = v
	}
	return out
}

// groupKey identifies the combination of values of fields in row.
func groupKey(row Row, fields []string) (string, []any) {
	if len(fields) == 0 {
		return "", nil
	}
	var b strings.Builder
	values := make([]any, len(fields))
	for i, f := range fields {
		v := fieldValue(row, f)
		values[i] = v
		fmt.Fprintf(&b, "%T\x00%v\x01", v, v)
	}
	return b.String(), values
}

// typeRank orders values of different JSON types.
func typeRank(v any) int {
	switch v.(type) {
	case bool:
		return 0
	case float64:
		return 1
	case string:
		return 2
	default:
		return 3
	}
}

// compareValues orders two non-null values: booleans, then numbers, then
// strings, then everything else.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// outputNames pads or validates the "as" names of a step.
func outputNames(as []string, defaults ...string) []string {
	out := make([]string, len(defaults))
	for i := range defaults {
		if i < len(as) && as[i] != "" {
			out[i] = as[i]
		} else {
			out[i] = defaults[i]
		}
	}
	return out
}
