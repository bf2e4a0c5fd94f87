package transform

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
)

func init() {
	register("pivot", applyPivot, []string{"field", "value", "groupby", "limit", "op", "key"}, checkPivotOp)
}

type pivotParams struct {
	Field   string   `mapstructure:"field"`
	Value   string   `mapstructure:"value"`
	GroupBy []string `mapstructure:"groupby"`
	Limit   int      `mapstructure:"limit"`
	Op      string   `mapstructure:"op"`
	Key     string   `mapstructure:"key"`
}

func checkPivotOp(raw map[string]any) error {
	if op, ok := raw["op"].(string); ok && !aggregateOps[op] {
		return fmt.Errorf("pivot op %q is not supported", op)
	}
	return nil
}

// applyPivot turns the distinct values of field into columns, one row per
// group, each cell aggregating value over the rows carrying that column.
func applyPivot(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params pivotParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.Field == "" || params.Value == "" {
		return nil, fmt.Errorf("pivot requires a field and a value")
	}
	if params.Op == "" {
		params.Op = "sum"
	}
	if !aggregateOps[params.Op] {
		return nil, fmt.Errorf("unknown pivot op %q", params.Op)
	}

	var columns []any
	seen := make(map[string]bool)
	for _, row := range in {
		v := fieldValue(row, params.Field)
		if v == nil || seen[lookupKey(v)] {
			continue
		}
		seen[lookupKey(v)] = true
		columns = append(columns, v)
	}
	sort.SliceStable(columns, func(a, b int) bool { return compareValues(columns[a], columns[b]) < 0 })
	if params.Limit > 0 && len(columns) > params.Limit {
		columns = columns[:params.Limit]
	}

	groups, _ := groupRowsByKey(in, params.GroupBy, params.Key)
	out := make([]Row, 0, len(groups))
	for _, g := range groups {
		row := make(Row, len(params.GroupBy)+len(columns))
		for i, name := range params.GroupBy {
			row[name] = g.values[i]
		}
		for _, col := range columns {
			row[columnName(col)] = reduce(measure{op: params.Op, field: "value"}, pivotCells(g.rows, params, col))
		}
		out = append(out, row)
	}
	return out, nil
}

// pivotCells projects a group onto one column: rows of other columns keep
// their place with a NaN value so counts still see them.
func pivotCells(rows []Row, params pivotParams, col any) []Row {
	want := lookupKey(col)
	cells := make([]Row, len(rows))
	for i, row := range rows {
		v := math.NaN()
		if k := fieldValue(row, params.Field); k != nil && lookupKey(k) == want {
			cells[i] = Row{"value": fieldValue(row, params.Value)}
			continue
		}
		cells[i] = Row{"value": v}
	}
	return cells
}

func columnName(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
