package vegaexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// The HCL operators below are swapped for versions following the loose
// typing of the expression language: '+' concatenates when either side is
// a string, the logical operators return one of their operands and skip a
// failing right side they do not need, and '!' and conditionals test
// truthiness instead of requiring booleans.
var (
	opAdd = &hclsyntax.Operation{
		Impl: function.New(&function.Spec{
			Params: []function.Parameter{anyParam("a"), anyParam("b")},
			Type:   function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				return add(args[0], args[1])
			},
		}),
		Type: cty.DynamicPseudoType,
	}
	opOr = &hclsyntax.Operation{
		Impl: function.New(&function.Spec{
			Params: []function.Parameter{anyParam("a"), anyParam("b")},
			Type:   function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				if truthy(args[0]) {
					return args[0], nil
				}
				return args[1], nil
			},
		}),
		Type: cty.DynamicPseudoType,

		ShortCircuit: func(lhs, _ cty.Value, lhsDiags, _ hcl.Diagnostics) (cty.Value, hcl.Diagnostics) {
			if !lhsDiags.HasErrors() && truthy(lhs) {
				return lhs, lhsDiags
			}
			return cty.NilVal, nil
		},
	}
	opAnd = &hclsyntax.Operation{
		Impl: function.New(&function.Spec{
			Params: []function.Parameter{anyParam("a"), anyParam("b")},
			Type:   function.StaticReturnType(cty.DynamicPseudoType),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				if !truthy(args[0]) {
					return args[0], nil
				}
				return args[1], nil
			},
		}),
		Type: cty.DynamicPseudoType,

		ShortCircuit: func(lhs, _ cty.Value, lhsDiags, _ hcl.Diagnostics) (cty.Value, hcl.Diagnostics) {
			if !lhsDiags.HasErrors() && lhs.IsKnown() && !truthy(lhs) {
				return lhs, lhsDiags
			}
			return cty.NilVal, nil
		},
	}
	opNot = &hclsyntax.Operation{
		Impl: function.New(&function.Spec{
			Params: []function.Parameter{anyParam("value")},
			Type:   function.StaticReturnType(cty.Bool),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				return cty.BoolVal(!truthy(args[0])), nil
			},
		}),
		Type: cty.Bool,
	}
	opTruthy = &hclsyntax.Operation{
		Impl: function.New(&function.Spec{
			Params: []function.Parameter{anyParam("value")},
			Type:   function.StaticReturnType(cty.Bool),
			Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
				return cty.BoolVal(truthy(args[0])), nil
			},
		}),
		Type: cty.Bool,
	}
)

// add implements '+'. Numbers add exactly; a string on either side turns
// the operation into concatenation; a null operand without a string yields
// null.
func add(a, b cty.Value) (cty.Value, error) {
	if isString(a) || isString(b) {
		as, err := concatText(a)
		if err != nil {
			return cty.NilVal, err
		}
		bs, err := concatText(b)
		if err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(as + bs), nil
	}
	if isNumeric(a) && isNumeric(b) {
		return a.Add(b), nil
	}
	if a.IsNull() || b.IsNull() {
		return cty.NullVal(cty.Number), nil
	}
	x, ok1 := numberArg(a)
	y, ok2 := numberArg(b)
	if !ok1 || !ok2 {
		return cty.NilVal, fmt.Errorf("cannot add %s and %s", a.Type().FriendlyName(), b.Type().FriendlyName())
	}
	return numberVal(x + y), nil
}

func isString(v cty.Value) bool {
	return !v.IsNull() && v.IsKnown() && v.Type() == cty.String
}

// concatText renders a scalar the way string concatenation prints it.
func concatText(v cty.Value) (string, error) {
	switch {
	case v.IsNull():
		return "null", nil
	case v.Type() == cty.String:
		return v.AsString(), nil
	case v.Type() == cty.Bool:
		return strconv.FormatBool(v.True()), nil
	case v.Type() == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return formatNumber(f), nil
	case v.Type().IsTupleType() || v.Type().IsListType():
		parts := make([]string, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			s, err := concatText(ev)
			if err != nil {
				return "", err
			}
			if ev.IsNull() {
				s = ""
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	}
	return "", fmt.Errorf("cannot concatenate %s", v.Type().FriendlyName())
}

// loosen rewrites the operators of a parsed expression in place.
func loosen(expr hclsyntax.Expression) {
	walk(expr, func(node hclsyntax.Expression) {
		switch n := node.(type) {
		case *hclsyntax.BinaryOpExpr:
			switch n.Op {
			case hclsyntax.OpAdd:
				n.Op = opAdd
			case hclsyntax.OpLogicalOr:
				n.Op = opOr
			case hclsyntax.OpLogicalAnd:
				n.Op = opAnd
			}
		case *hclsyntax.UnaryOpExpr:
			if n.Op == hclsyntax.OpLogicalNot {
				n.Op = opNot
			}
		case *hclsyntax.ConditionalExpr:
			n.Condition = &hclsyntax.UnaryOpExpr{
				Op:          opTruthy,
				Val:         n.Condition,
				SrcRange:    n.Condition.Range(),
				SymbolRange: n.Condition.StartRange(),
			}
		}
	})
}
