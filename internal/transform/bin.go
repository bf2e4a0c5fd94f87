package transform

import (
	"context"
	"fmt"
	"math"
)

func init() {
	register("bin", applyBin, []string{
		"field", "extent", "maxbins", "base", "step", "steps", "minstep",
		"divide", "nice", "anchor", "span", "as", "signal", "interval", "name",
	}, nil)
}

// binEpsilon absorbs floating-point error when computing a bin index.
const binEpsilon = 1e-14

// BinOptions controls step selection. Zero values select Vega's defaults.
type BinOptions struct {
	MaxBins float64   `mapstructure:"maxbins"`
	Base    float64   `mapstructure:"base"`
	Step    float64   `mapstructure:"step"`
	Steps   []float64 `mapstructure:"steps"`
	MinStep float64   `mapstructure:"minstep"`
	Divide  []float64 `mapstructure:"divide"`
	Nice    *bool     `mapstructure:"nice"`
	Anchor  *float64  `mapstructure:"anchor"`
	Span    float64   `mapstructure:"span"`
}

// Bins is a binning solution: n bins of width Step starting at Start.
type Bins struct {
	Start float64
	Stop  float64
	Step  float64
	N     int
}

// ComputeBins picks nice bin boundaries covering [lo, hi].
func ComputeBins(lo, hi float64, o BinOptions) (Bins, error) {
	if lo > hi {
		return Bins{}, fmt.Errorf("extent[1] must be greater than extent[0]: received [%v, %v]", lo, hi)
	}
	maxbins := o.MaxBins
	if maxbins <= 0 {
		maxbins = 20
	}
	base := o.Base
	if base <= 0 {
		base = 10
	}
	divide := o.Divide
	if divide == nil {
		divide = []float64{5, 2}
	}
	nice := o.Nice == nil || *o.Nice

	var span float64
	switch {
	case lo != hi:
		span = hi - lo
	case lo != 0:
		span = math.Abs(lo)
	default:
		span = 1
	}
	if o.Span > 0 {
		span = o.Span
	}

	logb := math.Log(base)
	var step float64
	switch {
	case o.Step > 0:
		step = o.Step
	case len(o.Steps) > 0:
		step = o.Steps[len(o.Steps)-1]
		for _, s := range o.Steps {
			if s > span/maxbins {
				step = s
				break
			}
		}
	default:
		level := math.Ceil(math.Log(maxbins) / logb)
		step = math.Max(o.MinStep, math.Pow(base, math.Round(math.Log(span)/logb)-level))
		for math.Ceil(span/step) > maxbins {
			step *= base
		}
		for _, div := range divide {
			v := step / div
			if v >= o.MinStep && span/v <= maxbins {
				step = v
			}
		}
	}

	v := math.Log(step)
	precision := 0.0
	if v < 0 {
		precision = math.Floor(-v/logb) + 1
	}
	eps := math.Pow(base, -precision-1)
	if nice {
		v := math.Floor(lo/step+eps) * step
		if lo < v {
			lo = v - step
		} else {
			lo = v
		}
		hi = math.Ceil(hi/step) * step
	}

	start, stop := lo, hi
	if stop == start {
		stop = start + step
	}
	if o.Anchor != nil {
		shift := *o.Anchor - (start + step*math.Floor((*o.Anchor-start)/step))
		start += shift
		stop += shift
	}
	return Bins{Start: start, Stop: stop, Step: step, N: int(math.Ceil((stop - start) / step))}, nil
}

// Assign returns the start of the bin holding x, or false when x falls
// outside every bin. A value equal to the last boundary joins the last bin.
func (b Bins) Assign(x float64) (float64, bool) {
	idx := math.Floor((x-b.Start)/b.Step + binEpsilon)
	lastStop := b.Start + b.Step*float64(b.N)
	switch {
	case idx < 0:
		return 0, false
	case idx == float64(b.N) && math.Abs(x-lastStop) < binEpsilon:
		idx--
	case idx >= float64(b.N):
		return 0, false
	}
	return b.Start + idx*b.Step, true
}

type binParams struct {
	BinOptions `mapstructure:",squash"`
	Field      string     `mapstructure:"field"`
	Extent     []*float64 `mapstructure:"extent"`
	As         []string   `mapstructure:"as"`
	Signal     string     `mapstructure:"signal"`
	Interval   *bool      `mapstructure:"interval"`
	Name       string     `mapstructure:"name"`
}

func applyBin(_ context.Context, in []Row, p Params, env *Env) ([]Row, error) {
	var params binParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.Field == "" {
		return nil, fmt.Errorf("bin requires a field")
	}
	if len(params.Extent) != 2 {
		return nil, fmt.Errorf("bin extent must have two entries, got %d", len(params.Extent))
	}
	var lo, hi float64
	if params.Extent[0] != nil {
		lo = *params.Extent[0]
	}
	if params.Extent[1] != nil {
		hi = *params.Extent[1]
	}

	bins, err := ComputeBins(lo, hi, params.BinOptions)
	if err != nil {
		return nil, err
	}
	as := outputNames(params.As, "bin0", "bin1")
	// interval:false writes only the lower boundary.
	interval := params.Interval == nil || *params.Interval

	out := make([]Row, len(in))
	for i, row := range in {
		next := clone(row)
		var b0, b1 any
		if x, ok := number(fieldValue(row, params.Field)); ok {
			if start, ok := bins.Assign(x); ok {
				b0, b1 = start, start+bins.Step
			}
		}
		next[as[0]] = b0
		if interval {
			next[as[1]] = b1
		}
		out[i] = next
	}

	if params.Signal != "" {
		fname := params.Name
		if fname == "" {
			fname = "bin_" + params.Field
		}
		env.SetSignal(params.Signal, map[string]any{
			"fields": []any{params.Field},
			"fname":  fname,
			"start":  bins.Start,
			"step":   bins.Step,
			"stop":   bins.Stop,
		})
	}
	return out, nil
}
