package transform

import (
	"context"
	"fmt"
)

func init() {
	register("extent", applyExtent, []string{"field", "signal"}, nil)
}

type extentParams struct {
	Field  string `mapstructure:"field"`
	Signal string `mapstructure:"signal"`
}

// applyExtent writes [min, max] of the field's finite numeric values to the
// step's signal. Rows pass through unchanged.
func applyExtent(_ context.Context, in []Row, p Params, env *Env) ([]Row, error) {
	var params extentParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.Field == "" {
		return nil, fmt.Errorf("extent requires a field")
	}

	var lo, hi float64
	found := false
	for _, row := range in {
		v, ok := number(fieldValue(row, params.Field))
		if !ok {
			continue
		}
		if !found || v < lo {
			lo = v
		}
		if !found || v > hi {
			hi = v
		}
		found = true
	}

	value := []any{nil, nil}
	if found {
		value = []any{lo, hi}
	}
	if params.Signal != "" {
		env.SetSignal(params.Signal, value)
	}
	return in, nil
}
