package transform

import (
	"context"
	"fmt"
	"math"
)

// maxSequenceRows bounds generated sequences.
const maxSequenceRows = 10_000_000

func init() {
	register("sequence", applySequence, []string{"start", "stop", "step", "as"}, nil)
}

type sequenceParams struct {
	Start *float64 `mapstructure:"start"`
	Stop  *float64 `mapstructure:"stop"`
	Step  *float64 `mapstructure:"step"`
	As    string   `mapstructure:"as"`
}

// applySequence replaces its input with rows holding start, start+step, ...
// up to but excluding stop.
func applySequence(_ context.Context, _ []Row, p Params, _ *Env) ([]Row, error) {
	var params sequenceParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.Start == nil || params.Stop == nil {
		return nil, fmt.Errorf("sequence requires start and stop")
	}
	step := 1.0
	if params.Step != nil {
		step = *params.Step
	}
	if step == 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("sequence step must be non-zero")
	}
	as := params.As
	if as == "" {
		as = "data"
	}

	start := *params.Start
	n := math.Ceil((*params.Stop - start) / step)
	if n <= 0 {
		return []Row{}, nil
	}
	if n > maxSequenceRows {
		return nil, fmt.Errorf("sequence would generate %v rows, limit is %d", n, maxSequenceRows)
	}
	out := make([]Row, int(n))
	for i := range out {
		out[i] = Row{as: start + float64(i)*step}
	}
	return out, nil
}
