package transform

import (
	"context"
	"fmt"
)

func init() {
	register("filter", applyFilter, []string{"expr"}, nil)
	register("formula", applyFormula, []string{"expr", "as", "initonly"}, nil)
}

func rowExpr(p Params, name string) error {
	if p.Exprs[name] == nil {
		return fmt.Errorf("missing %q expression", name)
	}
	return nil
}

// applyFilter keeps rows whose predicate is true. A null result drops the
// row; any non-boolean result is an error.
func applyFilter(_ context.Context, in []Row, p Params, env *Env) ([]Row, error) {
	if err := rowExpr(p, "expr"); err != nil {
		return nil, err
	}
	scope, err := env.Scope()
	if err != nil {
		return nil, err
	}
	pred := p.Exprs["expr"]

	out := make([]Row, 0, len(in))
	for i, row := range in {
		v, err := pred.Eval(scope, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		switch keep := v.(type) {
		case nil:
		case bool:
			if keep {
				out = append(out, row)
			}
		default:
			return nil, fmt.Errorf("row %d: filter expression %q produced %T, want boolean", i, pred.Source(), v)
		}
	}
	return out, nil
}

type formulaParams struct {
	As string `mapstructure:"as"`
	// InitOnly skips re-evaluation when rows are later modified. Every row
	// is seen exactly once here, so only its type is checked.
	InitOnly bool `mapstructure:"initonly"`
}

func applyFormula(_ context.Context, in []Row, p Params, env *Env) ([]Row, error) {
	if err := rowExpr(p, "expr"); err != nil {
		return nil, err
	}
	var params formulaParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.As == "" {
		return nil, fmt.Errorf("formula requires an output field")
	}
	scope, err := env.Scope()
	if err != nil {
		return nil, err
	}
	calc := p.Exprs["expr"]

	out := make([]Row, len(in))
	for i, row := range in {
		v, err := calc.Eval(scope, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		next := clone(row)
		next[params.As] = v
		out[i] = next
	}
	return out, nil
}
