package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/vegaprecompute/internal/loader"
)

func init() {
	register("timeunit", applyTimeUnit, []string{"field", "units", "as", "timezone", "interval"}, checkTimeUnit)
}

// timeUnits lists the supported units from coarsest to finest.
var timeUnits = []string{"year", "quarter", "month", "date", "hours", "minutes", "seconds", "milliseconds"}

func checkTimeUnit(raw map[string]any) error {
	units, _ := raw["units"].([]any)
	for _, u := range units {
		name, _ := u.(string)
		if !isTimeUnit(name) {
			return fmt.Errorf("time unit %q is not supported", name)
		}
	}
	return nil
}

func isTimeUnit(name string) bool {
	for _, u := range timeUnits {
		if u == name {
			return true
		}
	}
	return false
}

type timeUnitParams struct {
	Field    string   `mapstructure:"field"`
	Units    []string `mapstructure:"units"`
	As       []string `mapstructure:"as"`
	Timezone string   `mapstructure:"timezone"`
}

// TimeUnit floors a time to the given units. Units left out take their
// value from 2012-01-01T00:00:00.000. The second result is the start of
// the next interval of the finest unit.
func TimeUnit(t time.Time, units []string) (time.Time, time.Time) {
	has := make(map[string]bool, len(units))
	for _, u := range units {
		has[u] = true
	}
	year, month, day := 2012, time.January, 1
	var hour, minute, sec, ms int
	finest := "year"

	if has["year"] {
		year = t.Year()
	}
	if has["quarter"] {
		month = time.Month((int(t.Month())-1)/3*3 + 1)
		finest = "quarter"
	}
	if has["month"] {
		month = t.Month()
		finest = "month"
	}
	if has["date"] {
		day = t.Day()
		finest = "date"
	}
	if has["hours"] {
		hour = t.Hour()
		finest = "hours"
	}
	if has["minutes"] {
		minute = t.Minute()
		finest = "minutes"
	}
	if has["seconds"] {
		sec = t.Second()
		finest = "seconds"
	}
	if has["milliseconds"] {
		ms = t.Nanosecond() / int(time.Millisecond)
		finest = "milliseconds"
	}

	start := time.Date(year, month, day, hour, minute, sec, ms*int(time.Millisecond), t.Location())
	var end time.Time
	switch finest {
	case "year":
		end = start.AddDate(1, 0, 0)
	case "quarter":
		end = start.AddDate(0, 3, 0)
	case "month":
		end = start.AddDate(0, 1, 0)
	case "date":
		end = start.AddDate(0, 0, 1)
	case "hours":
		end = start.Add(time.Hour)
	case "minutes":
		end = start.Add(time.Minute)
	case "seconds":
		end = start.Add(time.Second)
	default:
		end = start.Add(time.Millisecond)
	}
	return start, end
}

// applyTimeUnit writes the floored interval of the field's time as epoch
// milliseconds. Strings are parsed in the input zone.
func applyTimeUnit(_ context.Context, in []Row, p Params, env *Env) ([]Row, error) {
	var params timeUnitParams
	if err := p.Decode(&params); err != nil {
		return nil, err
	}
	if params.Field == "" || len(params.Units) == 0 {
		return nil, fmt.Errorf("timeunit requires a field and units")
	}
	for _, u := range params.Units {
		if !isTimeUnit(u) {
			return nil, fmt.Errorf("time unit %q is not supported", u)
		}
	}
	loc := env.Location()
	switch params.Timezone {
	case "", "local":
	case "utc":
		loc = time.UTC
	default:
		return nil, fmt.Errorf("unknown timezone %q", params.Timezone)
	}
	as := outputNames(params.As, "unit0", "unit1")

	out := make([]Row, len(in))
	for i, row := range in {
		next := clone(row)
		next[as[0]], next[as[1]] = nil, nil
		if ms, ok := epochMillis(fieldValue(row, params.Field), env.InputLocation()); ok {
			start, end := TimeUnit(time.UnixMilli(int64(ms)).In(loc), params.Units)
			next[as[0]] = float64(start.UnixMilli())
			next[as[1]] = float64(end.UnixMilli())
		}
		out[i] = next
	}
	return out, nil
}

func epochMillis(v any, input *time.Location) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		return loader.ParseDate(x, input)
	}
	return 0, false
}
