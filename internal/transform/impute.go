package transform

import (
	"context"
	"fmt"
)

func init() {
	register("impute", applyImpute, []string{"field", "key", "keyvals", "method", "groupby", "value"}, checkImputeMethod)
}

type imputeParams struct {
	Field   string   `mapstructure:"field"`
	Key     string   `mapstructure:"key"`
	KeyVals []any    `mapstructure:"keyvals"`
	Method  string   `mapstructure:"method"`
	GroupBy []string `mapstructure:"groupby"`
	Value   any      `mapstructure:"value"`
}

var imputeMethods = map[string]bool{"value": true, "mean": true, "median": true, "max": true, "min": true}

func checkImputeMethod(raw map[string]any) error {
	if method, ok := raw["method"].(string); ok && !imputeMethods[method] {
		return fmt.Errorf("impute method %q is not supported", method)
	}
	return nil
}

// applyImpute appends a row for every key value a group lacks. Key values
// are those seen in the input, in order, followed by any extra keyvals.
func applyImpute(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params imputeParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.Field == "" || params.Key == "" {
		return nil, fmt.Errorf("impute requires a field and a key")
	}
	if params.Method == "" {
		params.Method = "value"
	}
	if !imputeMethods[params.Method] {
		return nil, fmt.Errorf("unknown impute method %q", params.Method)
	}
	if params.Value == nil {
		params.Value = 0.0
	}

	var keys []any
	known := make(map[string]bool)
	addKey := func(v any) {
		if v == nil || known[lookupKey(v)] {
			return
		}
		known[lookupKey(v)] = true
		keys = append(keys, v)
	}
	for _, row := range in {
		addKey(fieldValue(row, params.Key))
	}
	for _, v := range params.KeyVals {
		addKey(v)
	}

	out := make([]Row, len(in), len(in)+len(keys))
	copy(out, in)
	groups, _ := groupRows(in, params.GroupBy)
	for _, g := range groups {
		present := make(map[string]bool, len(g.rows))
		for _, row := range g.rows {
			if v := fieldValue(row, params.Key); v != nil {
				present[lookupKey(v)] = true
			}
		}
		fill := params.Value
		if params.Method != "value" {
			fill = reduce(measure{op: params.Method, field: params.Field}, g.rows)
		}
		for _, k := range keys {
			if present[lookupKey(k)] {
				continue
			}
			row := make(Row, len(params.GroupBy)+2)
			for i, name := range params.GroupBy {
				row[name] = g.values[i]
			}
			row[params.Key] = k
			row[params.Field] = fill
			out = append(out, row)
		}
	}
	return out, nil
}
