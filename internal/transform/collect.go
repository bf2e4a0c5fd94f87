package transform

import (
	"context"
	"fmt"
	"sort"
)

func init() {
	register("collect", applyCollect, []string{"sort"}, nil)
}

type sortParams struct {
	Field []string `mapstructure:"field"`
	Order []string `mapstructure:"order"`
}

type collectParams struct {
	Sort sortParams `mapstructure:"sort"`
}

// comparator orders rows by the sort fields. Nulls sort last in either
// direction. It returns nil when no field is given.
func (s sortParams) comparator() (func(a, b Row) int, error) {
	keys := s.Field
	desc := make([]bool, len(keys))
	for i := range keys {
		if i >= len(s.Order) {
			continue
		}
		switch s.Order[i] {
		case "", "ascending":
		case "descending":
			desc[i] = true
		default:
			return nil, fmt.Errorf("unknown sort order %q", s.Order[i])
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	return func(a, b Row) int {
		for i, key := range keys {
			va, vb := fieldValue(a, key), fieldValue(b, key)
			switch {
			case va == nil && vb == nil:
				continue
			case va == nil:
				return 1
			case vb == nil:
				return -1
			}
			c := compareValues(va, vb)
			if c == 0 {
				continue
			}
			if desc[i] {
				return -c
			}
			return c
		}
		return 0
	}, nil
}

// applyCollect stable-sorts rows.
func applyCollect(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params collectParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	cmp, err := params.Sort.comparator()
	if err != nil {
		return nil, err
	}

	out := append([]Row(nil), in...)
	if cmp == nil {
		return out, nil
	}
	sort.SliceStable(out, func(a, b int) bool {
		return cmp(out[a], out[b]) < 0
	})
	return out, nil
}
