package transform

import (
	"context"
	"fmt"
	"math"
	"sort"
)

func init() {
	register("window", applyWindow, []string{
		"sort", "groupby", "ops", "fields", "params", "as", "frame", "ignorePeers",
	}, checkWindowOps)
}

// windowOps are the ranking and navigation ops. Every aggregate op is also
// accepted and reduces over the frame.
var windowOps = map[string]bool{
	"row_number": true, "rank": true, "dense_rank": true, "percent_rank": true,
	"cume_dist": true, "ntile": true, "lag": true, "lead": true,
	"first_value": true, "last_value": true, "nth_value": true,
	"prev_value": true, "next_value": true,
}

type windowParams struct {
	Sort        sortParams `mapstructure:"sort"`
	GroupBy     []string   `mapstructure:"groupby"`
	Ops         []string   `mapstructure:"ops"`
	Fields      []string   `mapstructure:"fields"`
	Params      []*float64 `mapstructure:"params"`
	As          []string   `mapstructure:"as"`
	Frame       []*float64 `mapstructure:"frame"`
	IgnorePeers bool       `mapstructure:"ignorePeers"`
}

func checkWindowOps(raw map[string]any) error {
	ops, _ := raw["ops"].([]any)
	for _, op := range ops {
		name, ok := op.(string)
		if ok && !windowOps[name] && !aggregateOps[name] {
			return fmt.Errorf("window op %q is not supported", name)
		}
	}
	return nil
}

// windowOp is one compiled op of a window step.
type windowOp struct {
	op    string
	field string
	param *float64
	as    string
}

func (p windowParams) compile() ([]windowOp, error) {
	if len(p.Ops) == 0 {
		return nil, fmt.Errorf("window requires at least one op")
	}
	out := make([]windowOp, len(p.Ops))
	for i, op := range p.Ops {
		w := windowOp{op: op}
		if i < len(p.Fields) {
			w.field = p.Fields[i]
		}
		if i < len(p.Params) {
			w.param = p.Params[i]
		}
		switch {
		case windowOps[op]:
			switch op {
			case "lag", "lead", "first_value", "last_value", "nth_value", "prev_value", "next_value":
				if w.field == "" {
					return nil, fmt.Errorf("window op %q requires a field", op)
				}
			}
			if (op == "ntile" || op == "nth_value") && (w.param == nil || *w.param <= 0) {
				return nil, fmt.Errorf("window op %q requires a positive parameter", op)
			}
		case aggregateOps[op]:
			if w.field == "" && op != "count" {
				return nil, fmt.Errorf("window op %q requires a field", op)
			}
		default:
			return nil, fmt.Errorf("unknown window op %q", op)
		}
		switch {
		case i < len(p.As) && p.As[i] != "":
			w.as = p.As[i]
		case w.field == "":
			w.as = op
		default:
			w.as = op + "_" + w.field
		}
		out[i] = w
	}
	return out, nil
}

// frame holds the row offsets of a sliding window. A nil bound is
// unbounded; the magnitude of a bound is the number of rows it reaches.
type frame struct {
	before, after *float64
}

func (f frame) bounds(i, n int) (int, int) {
	lo, hi := 0, n
	if f.before != nil {
		lo = max(0, i-int(math.Abs(*f.before)))
	}
	if f.after != nil {
		hi = min(n, i+int(math.Abs(*f.after))+1)
	}
	return lo, hi
}

// applyWindow computes ops over sorted partitions of the rows and writes
// the results onto each row. Rows keep their input order.
func applyWindow(_ context.Context, in []Row, p Params, _ *Env) ([]Row, error) {
	var params windowParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	ops, err := params.compile()
	if err != nil {
		return nil, err
	}
	cmp, err := params.Sort.comparator()
	if err != nil {
		return nil, err
	}
	zero := 0.0
	f := frame{after: &zero}
	switch len(params.Frame) {
	case 0:
	case 2:
		f = frame{before: params.Frame[0], after: params.Frame[1]}
	default:
		return nil, fmt.Errorf("window frame must have two entries, got %d", len(params.Frame))
	}

	// Partitions hold row positions; ops read the unmodified input rows so
	// values and argmin results never contain window output.
	var keys []string
	positions := make(map[string][]int)
	for i, row := range in {
		key, _ := groupKey(row, params.GroupBy)
		if _, ok := positions[key]; !ok {
			keys = append(keys, key)
		}
		positions[key] = append(positions[key], i)
	}

	out := make([]Row, len(in))
	for i, row := range in {
		out[i] = clone(row)
	}
	for _, key := range keys {
		idx := positions[key]
		if cmp != nil {
			sort.SliceStable(idx, func(a, b int) bool { return cmp(in[idx[a]], in[idx[b]]) < 0 })
		}
		part := make([]Row, len(idx))
		for j, i := range idx {
			part[j] = in[i]
		}
		results := windowPartition(part, ops, f, cmp, params.IgnorePeers)
		for o, op := range ops {
			for j, i := range idx {
				out[i][op.as] = results[o][j]
			}
		}
	}
	return out, nil
}

// windowPartition returns, per op, the value for each row of a sorted
// partition.
func windowPartition(part []Row, ops []windowOp, f frame, cmp func(a, b Row) int, ignorePeers bool) [][]any {
	n := len(part)
	// peerStart and peerEnd bound the rows tied with each row under the
	// sort; without a sort every row is its own peer group.
	peerStart := make([]int, n)
	peerEnd := make([]int, n)
	dense := make([]int, n)
	rank := 0
	for i := 0; i < n; {
		j := i + 1
		for cmp != nil && j < n && cmp(part[i], part[j]) == 0 {
			j++
		}
		rank++
		for k := i; k < j; k++ {
			peerStart[k], peerEnd[k], dense[k] = i, j, rank
		}
		i = j
	}

	results := make([][]any, len(ops))
	for o, op := range ops {
		vals := make([]any, n)
		for i := range part {
			lo, hi := f.bounds(i, n)
			if cmp != nil && !ignorePeers {
				lo = peerStart[lo]
				hi = peerEnd[hi-1]
			}
			vals[i] = windowValue(op, part, i, lo, hi, peerStart, peerEnd, dense)
		}
		results[o] = vals
	}
	return results
}

func windowValue(op windowOp, part []Row, i, lo, hi int, peerStart, peerEnd, dense []int) any {
	n := len(part)
	offset := 1
	if op.param != nil {
		offset = int(*op.param)
	}
	switch op.op {
	case "row_number":
		return float64(i + 1)
	case "rank":
		return float64(peerStart[i] + 1)
	case "dense_rank":
		return float64(dense[i])
	case "percent_rank":
		if n < 2 {
			return 0.0
		}
		return float64(peerStart[i]) / float64(n-1)
	case "cume_dist":
		return float64(peerEnd[i]) / float64(n)
	case "ntile":
		return math.Ceil(*op.param * float64(i+1) / float64(n))
	case "lag":
		if i-offset >= 0 && i-offset < n {
			return fieldValue(part[i-offset], op.field)
		}
		return nil
	case "lead":
		if i+offset >= 0 && i+offset < n {
			return fieldValue(part[i+offset], op.field)
		}
		return nil
	case "first_value":
		return fieldValue(part[lo], op.field)
	case "last_value":
		return fieldValue(part[hi-1], op.field)
	case "nth_value":
		if j := lo + int(*op.param) - 1; j < hi {
			return fieldValue(part[j], op.field)
		}
		return nil
	case "prev_value":
		for j := i; j >= 0; j-- {
			if v := fieldValue(part[j], op.field); v != nil {
				return v
			}
		}
		return nil
	case "next_value":
		for j := i; j < n; j++ {
			if v := fieldValue(part[j], op.field); v != nil {
				return v
			}
		}
		return nil
	}
	// TODO: keep running totals for sum, count and mean so unbounded frames
	// do not rescan the partition for every row.
	return reduce(measure{op: op.op, field: op.field, as: op.as}, part[lo:hi])
}
