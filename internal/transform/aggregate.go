package transform

import (
	"context"
	"fmt"
	"strconv"
)

func init() {
	register("aggregate", applyAggregate, []string{"groupby", "fields", "ops", "as", "drop", "key", "cross"}, checkMeasures)
	register("joinaggregate", applyJoinAggregate, []string{"groupby", "fields", "ops", "as"}, checkMeasures)
}

type aggregateParams struct {
	GroupBy []string `mapstructure:"groupby"`
	Fields  []string `mapstructure:"fields"`
	Ops     []string `mapstructure:"ops"`
	As      []string `mapstructure:"as"`
	// Key names one field whose value identifies a group, standing in for
	// the combined groupby values.
	Key   string `mapstructure:"key"`
	Cross bool   `mapstructure:"cross"`
	// Drop removes cells emptied by later updates. A single evaluation
	// never empties a cell, so only its type is checked.
	Drop *bool `mapstructure:"drop"`
}

func checkMeasures(raw map[string]any) error {
	ops, _ := raw["ops"].([]any)
	for _, op := range ops {
		if name, ok := op.(string); ok && !aggregateOps[name] {
			return fmt.Errorf("aggregate op %q is not supported", name)
		}
	}
	return nil
}

// group is one distinct groupby key, in first-appearance order.
type group struct {
	values []any
	rows   []Row
}

func groupRows(in []Row, by []string) ([]*group, map[string]*group) {
	return groupRowsByKey(in, by, "")
}

// groupRowsByKey groups rows by the value of keyField when it is set and by
// the combined values of by otherwise.
func groupRowsByKey(in []Row, by []string, keyField string) ([]*group, map[string]*group) {
	var order []*group
	index := make(map[string]*group)
	for _, row := range in {
		key, values := groupKey(row, by)
		if keyField != "" {
			key, _ = groupKey(row, []string{keyField})
		}
		g, ok := index[key]
		if !ok {
			g = &group{values: values}
			index[key] = g
			order = append(order, g)
		}
		g.rows = append(g.rows, row)
	}
	return order, index
}

func applyAggregate(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params aggregateParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	ms, err := measures(params.Fields, params.Ops, params.As)
	if err != nil {
		return nil, err
	}

	groups, _ := groupRowsByKey(in, params.GroupBy, params.Key)
	if len(groups) == 0 && len(params.GroupBy) == 0 {
		groups = []*group{{}}
	}
	if params.Cross && len(params.GroupBy) > 0 {
		groups = crossGroups(groups, len(params.GroupBy))
	}

	out := make([]Row, 0, len(groups))
	for _, g := range groups {
		row := make(Row, len(params.GroupBy)+len(ms))
		for i, name := range params.GroupBy {
			row[name] = g.values[i]
		}
		for _, m := range ms {
			row[m.as] = reduce(m, g.rows)
		}
		out = append(out, row)
	}
	return out, nil
}

// crossGroups appends an empty group for every combination of observed
// groupby values that has no rows. Combinations follow the first-appearance
// order of each field's values.
func crossGroups(groups []*group, width int) []*group {
	seen := make(map[string]bool, len(groups))
	distinct := make([][]any, width)
	known := make([]map[string]bool, width)
	for i := range known {
		known[i] = make(map[string]bool)
	}
	for _, g := range groups {
		seen[valuesKey(g.values)] = true
		for i, v := range g.values {
			k := valuesKey([]any{v})
			if !known[i][k] {
				known[i][k] = true
				distinct[i] = append(distinct[i], v)
			}
		}
	}

	out := groups
	combo := make([]any, width)
	var fill func(i int)
	fill = func(i int) {
		if i == width {
			if !seen[valuesKey(combo)] {
				out = append(out, &group{values: append([]any(nil), combo...)})
			}
			return
		}
		for _, v := range distinct[i] {
			combo[i] = v
			fill(i + 1)
		}
	}
	fill(0)
	return out
}

func valuesKey(values []any) string {
	row := make(Row, len(values))
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = strconv.Itoa(i)
		row[names[i]] = v
	}
	key, _ := groupKey(row, names)
	return key
}

func applyJoinAggregate(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params aggregateParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	ms, err := measures(params.Fields, params.Ops, params.As)
	if err != nil {
		return nil, err
	}

	_, index := groupRows(in, params.GroupBy)
	results := make(map[string]Row, len(index))
	for key, g := range index {
		r := make(Row, len(ms))
		for _, m := range ms {
			r[m.as] = reduce(m, g.rows)
		}
		results[key] = r
	}

	out := make([]Row, len(in))
	for i, row := range in {
		key, _ := groupKey(row, params.GroupBy)
		next := clone(row)
		for k, v := range results[key] {
			next[k] = v
		}
		out[i] = next
	}
	return out, nil
}
