package transform

import (
	"context"
	"fmt"
)

func init() {
	register("lookup", applyLookup, []string{"from", "key", "fields", "values", "as", "default"}, nil)
}

type lookupParams struct {
	From    string   `mapstructure:"from"`
	Key     string   `mapstructure:"key"`
	Fields  []string `mapstructure:"fields"`
	Values  []string `mapstructure:"values"`
	As      []string `mapstructure:"as"`
	Default any      `mapstructure:"default"`
}

// applyLookup joins rows of a secondary dataset onto each row. When several
// secondary rows share a key the last one wins.
func applyLookup(_ context.Context, in []Row, p Params, env *Env) ([]Row, error) {
	var params lookupParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.From == "" || params.Key == "" || len(params.Fields) == 0 {
		return nil, fmt.Errorf("lookup requires from, key and fields")
	}
	secondary, ok := env.Dataset(params.From)
	if !ok {
		return nil, fmt.Errorf("lookup dataset %q is not available", params.From)
	}

	index := make(map[string]Row, len(secondary))
	for _, row := range secondary {
		if v := fieldValue(row, params.Key); v != nil {
			index[lookupKey(v)] = row
		}
	}

	var names []string
	if len(params.Values) > 0 {
		names = outputNames(params.As, params.Values...)
	} else {
		names = outputNames(params.As, params.Fields...)
		if len(params.As) > 0 && len(params.As) != len(params.Fields) {
			return nil, fmt.Errorf("lookup as must name one output per field")
		}
	}

	out := make([]Row, len(in))
	for i, row := range in {
		next := clone(row)
		for fi, f := range params.Fields {
			var match Row
			found := false
			if v := fieldValue(row, f); v != nil {
				match, found = index[lookupKey(v)]
			}
			if len(params.Values) == 0 {
				if found {
					next[names[fi]] = match
				} else {
					next[names[fi]] = params.Default
				}
				continue
			}
			for vi, v := range params.Values {
				if found {
					next[names[vi]] = fieldValue(match, v)
				} else {
					next[names[vi]] = params.Default
				}
			}
		}
		out[i] = next
	}
	return out, nil
}

func lookupKey(v any) string {
	return fmt.Sprintf("%T\x00%v", v, v)
}
