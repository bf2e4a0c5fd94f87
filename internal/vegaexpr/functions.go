package vegaexpr

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// anyParam accepts every value, including nulls, so each function decides
// for itself how missing data behaves.
func anyParam(name string) function.Parameter {
	return function.Parameter{
		Name:             name,
		Type:             cty.DynamicPseudoType,
		AllowNull:        true,
		AllowDynamicType: true,
	}
}

func predicate(fn func(v cty.Value) bool) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{anyParam("value")},
		Type:   function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.BoolVal(fn(args[0])), nil
		},
	})
}

func unaryMath(fn func(float64) float64) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{anyParam("value")},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			f, ok := numberArg(args[0])
			if !ok {
				return cty.NullVal(cty.Number), nil
			}
			return numberVal(fn(f)), nil
		},
	})
}

func variadicMath(fn func(a, b float64) float64) function.Function {
	return function.New(&function.Spec{
		VarParam: &function.Parameter{
			Name:             "values",
			Type:             cty.DynamicPseudoType,
			AllowNull:        true,
			AllowDynamicType: true,
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			if len(args) == 0 {
				return cty.NullVal(cty.Number), nil
			}
			acc, ok := numberArg(args[0])
			if !ok {
				return cty.NullVal(cty.Number), nil
			}
			for _, a := range args[1:] {
				f, ok := numberArg(a)
				if !ok {
					return cty.NullVal(cty.Number), nil
				}
				acc = fn(acc, f)
			}
			return numberVal(acc), nil
		},
	})
}

// timePart extracts a calendar component from an epoch-millisecond value.
func timePart(loc *time.Location, part func(t time.Time) int) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{anyParam("time")},
		Type:   function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			ms, ok := numberArg(args[0])
			if !ok {
				return cty.NullVal(cty.Number), nil
			}
			t := time.UnixMilli(int64(ms)).In(loc)
			return cty.NumberIntVal(int64(part(t))), nil
		},
	})
}

func isNumeric(v cty.Value) bool {
	return !v.IsNull() && v.IsKnown() && v.Type() == cty.Number
}

func isFiniteNumber(v cty.Value) bool {
	if !isNumeric(v) {
		return false
	}
	return !v.AsBigFloat().IsInf()
}

// parseNumber follows the loose string-to-number coercion of the expression
// language: surrounding space is ignored, the empty string is not a number.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// functions builds the callable table for one scope. Calendar functions bind
// to loc; data() reads through the scope's dataset accessor.
func (s *Scope) functions() map[string]function.Function {
	loc := s.location
	utc := time.UTC

	fns := map[string]function.Function{
		"isValid": predicate(func(v cty.Value) bool { return !v.IsNull() }),
		"isFinite": predicate(isFiniteNumber),
		"isNumber": predicate(isNumeric),
		"isString": predicate(func(v cty.Value) bool {
			return !v.IsNull() && v.Type() == cty.String
		}),
		"isBoolean": predicate(func(v cty.Value) bool {
			return !v.IsNull() && v.Type() == cty.Bool
		}),
		"isArray": predicate(func(v cty.Value) bool {
			return !v.IsNull() && (v.Type().IsTupleType() || v.Type().IsListType())
		}),
		"isObject": predicate(func(v cty.Value) bool {
			return !v.IsNull() && (v.Type().IsObjectType() || v.Type().IsMapType())
		}),

		"toNumber": unaryMath(func(f float64) float64 { return f }),
		"toString": function.New(&function.Spec{
			Params: []function.Parameter{anyParam("value")},
			Type:   function.StaticReturnType(cty.String),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				v := args[0]
				switch {
				case v.IsNull():
					return cty.NullVal(cty.String), nil
				case v.Type() == cty.String:
					return v, nil
				case v.Type() == cty.Bool:
					return cty.StringVal(strconv.FormatBool(v.True())), nil
				case v.Type() == cty.Number:
					f, _ := v.AsBigFloat().Float64()
					return cty.StringVal(formatNumber(f)), nil
				}
				return cty.NullVal(cty.String), nil
			},
		}),
		"toBoolean": function.New(&function.Spec{
			Params: []function.Parameter{anyParam("value")},
			Type:   function.StaticReturnType(cty.Bool),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				v := args[0]
				switch {
				case v.IsNull():
					return cty.NullVal(cty.Bool), nil
				case v.Type() == cty.Bool:
					return v, nil
				case v.Type() == cty.String:
					s := v.AsString()
					if s == "" {
						return cty.NullVal(cty.Bool), nil
					}
					return cty.BoolVal(s != "false" && s != "0"), nil
				}
				f, ok := numberArg(v)
				return cty.BoolVal(ok && f != 0), nil
			},
		}),

		"abs":   unaryMath(math.Abs),
		"ceil":  unaryMath(math.Ceil),
		"floor": unaryMath(math.Floor),
		"round": unaryMath(func(f float64) float64 { return math.Floor(f + 0.5) }),
		"sqrt":  unaryMath(math.Sqrt),
		"exp":   unaryMath(math.Exp),
		"log":   unaryMath(math.Log),
		"pow": function.New(&function.Spec{
			Params: []function.Parameter{anyParam("base"), anyParam("exponent")},
			Type:   function.StaticReturnType(cty.Number),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				b, ok1 := numberArg(args[0])
				e, ok2 := numberArg(args[1])
				if !ok1 || !ok2 {
					return cty.NullVal(cty.Number), nil
				}
				return numberVal(math.Pow(b, e)), nil
			},
		}),
		"min": variadicMath(math.Min),
		"max": variadicMath(math.Max),
		"clamp": function.New(&function.Spec{
			Params: []function.Parameter{anyParam("value"), anyParam("min"), anyParam("max")},
			Type:   function.StaticReturnType(cty.Number),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				x, ok1 := numberArg(args[0])
				lo, ok2 := numberArg(args[1])
				hi, ok3 := numberArg(args[2])
				if !ok1 || !ok2 || !ok3 {
					return cty.NullVal(cty.Number), nil
				}
				return numberVal(math.Max(lo, math.Min(hi, x))), nil
			},
		}),

		"if_": function.New(&function.Spec{
			Params: []function.Parameter{anyParam("test"), anyParam("then"), anyParam("else")},
			Type:   function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				if truthy(args[0]) {
					return args[1], nil
				}
				return args[2], nil
			},
		}),
		"length": function.New(&function.Spec{
			Params: []function.Parameter{anyParam("value")},
			Type:   function.StaticReturnType(cty.Number),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				v := args[0]
				switch {
				case v.IsNull():
					return cty.NullVal(cty.Number), nil
				case v.Type() == cty.String:
					return cty.NumberIntVal(int64(len([]rune(v.AsString())))), nil
				case v.CanIterateElements():
					return cty.NumberIntVal(int64(v.LengthInt())), nil
				}
				return cty.NullVal(cty.Number), nil
			},
		}),
		"upper": stdlib.UpperFunc,
		"lower": stdlib.LowerFunc,

		"year":     timePart(loc, func(t time.Time) int { return t.Year() }),
		"quarter":  timePart(loc, func(t time.Time) int { return (int(t.Month())-1)/3 + 1 }),
		"month":    timePart(loc, func(t time.Time) int { return int(t.Month()) - 1 }),
		"date":     timePart(loc, func(t time.Time) int { return t.Day() }),
		"day":      timePart(loc, func(t time.Time) int { return int(t.Weekday()) }),
		"hours":    timePart(loc, func(t time.Time) int { return t.Hour() }),
		"minutes":  timePart(loc, func(t time.Time) int { return t.Minute() }),
		"seconds":  timePart(loc, func(t time.Time) int { return t.Second() }),
		"utcyear":  timePart(utc, func(t time.Time) int { return t.Year() }),
		"utcmonth": timePart(utc, func(t time.Time) int { return int(t.Month()) - 1 }),
		"utcdate":  timePart(utc, func(t time.Time) int { return t.Day() }),
		"utchours": timePart(utc, func(t time.Time) int { return t.Hour() }),

		"data": function.New(&function.Spec{
			Params: []function.Parameter{{Name: "name", Type: cty.String}},
			Type:   function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				return s.dataset(args[0].AsString())
			},
		}),
	}
	return fns
}

// truthy mirrors the loose truthiness of the expression language.
func truthy(v cty.Value) bool {
	if v.IsNull() || !v.IsKnown() {
		return false
	}
	switch v.Type() {
	case cty.Bool:
		return v.True()
	case cty.String:
		return v.AsString() != ""
	case cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f != 0
	}
	return true
}
