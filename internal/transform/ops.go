package transform

import (
	"fmt"
	"math"
	"sort"

	"github.com/aclements/go-moremath/stats"
)

// aggregateOps lists the supported reducers.
var aggregateOps = map[string]bool{
	"count": true, "valid": true, "missing": true, "distinct": true,
	"sum": true, "product": true, "mean": true, "average": true,
	"variance": true, "variancep": true, "stdev": true, "stdevp": true,
	"stderr": true, "median": true, "q1": true, "q3": true,
	"min": true, "max": true, "argmin": true, "argmax": true, "values": true,
}

// measure is one (op, field, output name) triple.
type measure struct {
	op    string
	field string
	as    string
}

// measures pairs fields with ops. A missing op is count; a bare count is
// named "count", everything else op_field unless renamed.
func measures(fields, ops, as []string) ([]measure, error) {
	n := max(len(fields), len(ops))
	if n == 0 {
		n = 1
	}
	out := make([]measure, n)
	for i := range out {
		m := measure{op: "count"}
		if i < len(fields) {
			m.field = fields[i]
		}
		if i < len(ops) && ops[i] != "" {
			m.op = ops[i]
		}
		if !aggregateOps[m.op] {
			return nil, fmt.Errorf("unknown aggregate op %q", m.op)
		}
		if m.field == "" && m.op != "count" {
			return nil, fmt.Errorf("aggregate op %q requires a field", m.op)
		}
		switch {
		case i < len(as) && as[i] != "":
			m.as = as[i]
		case m.field == "":
			m.as = m.op
		default:
			m.as = m.op + "_" + m.field
		}
		out[i] = m
	}
	return out, nil
}

// reduce computes a measure over the rows of one group.
func reduce(m measure, rows []Row) any {
	if m.op == "count" {
		return float64(len(rows))
	}
	if m.op == "values" {
		items := make([]any, len(rows))
		for i, r := range rows {
			items[i] = r
		}
		return items
	}

	var (
		nums     []float64
		numRows  []Row
		valid    int
		missed   int
		distinct = make(map[string]struct{})
	)
	for _, r := range rows {
		v := fieldValue(r, m.field)
		if missing(v) {
			missed++
			continue
		}
		if f, ok := v.(float64); ok && math.IsNaN(f) {
			continue
		}
		valid++
		distinct[lookupKey(v)] = struct{}{}
		if f, ok := number(v); ok {
			nums = append(nums, f)
			numRows = append(numRows, r)
		}
	}

	switch m.op {
	case "valid":
		return float64(valid)
	case "missing":
		return float64(missed)
	case "distinct":
		return float64(len(distinct))
	case "sum":
		return stats.Sample{Xs: nums}.Sum()
	case "product":
		p := 1.0
		for _, f := range nums {
			p *= f
		}
		return finite(p)
	}

	if len(nums) == 0 {
		return nil
	}
	switch m.op {
	case "mean", "average":
		return finite(stats.Mean(nums))
	case "min", "max":
		lo, hi := stats.Bounds(nums)
		if m.op == "min" {
			return lo
		}
		return hi
	case "argmin", "argmax":
		best := 0
		for i, f := range nums {
			if (m.op == "argmin" && f < nums[best]) || (m.op == "argmax" && f > nums[best]) {
				best = i
			}
		}
		return numRows[best]
	case "median":
		return quantile(nums, 0.5)
	case "q1":
		return quantile(nums, 0.25)
	case "q3":
		return quantile(nums, 0.75)
	case "variancep", "stdevp":
		mean := stats.Mean(nums)
		var dev float64
		for _, f := range nums {
			dev += (f - mean) * (f - mean)
		}
		v := dev / float64(len(nums))
		if m.op == "stdevp" {
			return finite(math.Sqrt(v))
		}
		return finite(v)
	}

	// Sample statistics need at least two values.
	if len(nums) < 2 {
		return nil
	}
	switch m.op {
	case "variance":
		return finite(stats.Variance(nums))
	case "stdev":
		return finite(stats.StdDev(nums))
	case "stderr":
		return finite(math.Sqrt(stats.Variance(nums) / float64(len(nums))))
	}
	return nil
}

// quantile interpolates linearly between order statistics (the R-7 rule
// used by Vega's d3 quantiles).
func quantile(xs []float64, q float64) any {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	h := float64(n-1) * q
	i := int(math.Floor(h))
	if i >= n-1 {
		return sorted[n-1]
	}
	return sorted[i] + (h-float64(i))*(sorted[i+1]-sorted[i])
}
