package transform

import (
	"context"
	"fmt"
	"math"
	"sort"
)

func init() {
	register("stack", applyStack, []string{"field", "groupby", "sort", "offset", "as"}, checkStackOffset)
}

type stackParams struct {
	Field   string     `mapstructure:"field"`
	GroupBy []string   `mapstructure:"groupby"`
	Sort    sortParams `mapstructure:"sort"`
	Offset  string     `mapstructure:"offset"`
	As      []string   `mapstructure:"as"`
}

func checkStackOffset(raw map[string]any) error {
	switch offset, _ := raw["offset"].(string); offset {
	case "", "zero", "center", "normalize":
		return nil
	default:
		return fmt.Errorf("stack offset %q is not supported", offset)
	}
}

// applyStack lays the values of each group end to end, writing the start
// and end of every row's segment. Without a field every row counts as one.
func applyStack(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params stackParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	cmp, err := params.Sort.comparator()
	if err != nil {
		return nil, err
	}
	as := outputNames(params.As, "y0", "y1")

	out := make([]Row, len(in))
	for i, row := range in {
		out[i] = clone(row)
	}
	groups, _ := groupRows(out, params.GroupBy)

	// Center offsets depend on the largest group total.
	sums := make([]float64, len(groups))
	var most float64
	for i, g := range groups {
		if cmp != nil {
			sort.SliceStable(g.rows, func(a, b int) bool { return cmp(g.rows[a], g.rows[b]) < 0 })
		}
		for _, row := range g.rows {
			sums[i] += math.Abs(params.value(row))
		}
		most = max(most, sums[i])
	}

	for i, g := range groups {
		switch params.Offset {
		case "center":
			last := (most - sums[i]) / 2
			for _, row := range g.rows {
				row[as[0]] = last
				last += math.Abs(params.value(row))
				row[as[1]] = last
			}
		case "normalize":
			scale := 1 / sums[i]
			var last float64
			for _, row := range g.rows {
				row[as[0]] = finite(scale * last)
				last += math.Abs(params.value(row))
				row[as[1]] = finite(scale * last)
			}
		default:
			var pos, neg float64
			for _, row := range g.rows {
				v := params.value(row)
				if v < 0 {
					row[as[0]] = neg
					neg += v
					row[as[1]] = neg
					continue
				}
				row[as[0]] = pos
				pos += v
				row[as[1]] = pos
			}
		}
	}
	return out, nil
}

// value is the size of a row's segment. Unreadable values take no space.
func (p stackParams) value(row Row) float64 {
	if p.Field == "" {
		return 1
	}
	f, _ := number(fieldValue(row, p.Field))
	return f
}
