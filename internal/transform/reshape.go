package transform

import (
	"context"
	"fmt"
)

func init() {
	register("project", applyProject, []string{"fields", "as"}, nil)
	register("fold", applyFold, []string{"fields", "as"}, nil)
	register("identifier", applyIdentifier, []string{"as"}, nil)
}

type fieldsParams struct {
	Fields []string `mapstructure:"fields"`
	As     []string `mapstructure:"as"`
}

// applyProject keeps only the named fields, optionally renamed.
func applyProject(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params fieldsParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	names := outputNames(params.As, params.Fields...)

	out := make([]Row, len(in))
	for i, row := range in {
		next := make(Row, len(params.Fields))
		for j, f := range params.Fields {
			next[names[j]] = fieldValue(row, f)
		}
		out[i] = next
	}
	return out, nil
}

// applyFold turns each listed field of each row into its own row holding
// the field name and value.
func applyFold(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params fieldsParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if len(params.Fields) == 0 {
		return nil, fmt.Errorf("fold requires at least one field")
	}
	as := outputNames(params.As, "key", "value")

	out := make([]Row, 0, len(in)*len(params.Fields))
	for _, row := range in {
		for _, f := range params.Fields {
			next := clone(row)
			next[as[0]] = f
			next[as[1]] = fieldValue(row, f)
			out = append(out, next)
		}
	}
	return out, nil
}

type identifierParams struct {
	As string `mapstructure:"as"`
}

func applyIdentifier(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params identifierParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.As == "" {
		return nil, fmt.Errorf("identifier requires an output field")
	}
	out := make([]Row, len(in))
	for i, row := range in {
		next := clone(row)
		next[params.As] = float64(i + 1)
		out[i] = next
	}
	return out, nil
}
