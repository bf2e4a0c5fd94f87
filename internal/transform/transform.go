package transform

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/internal/specmodel"
	"github.com/vk/vegaprecompute/internal/vegaexpr"
	"github.com/vk/vegaprecompute/internal/verr"
)

// Row is one datum. Values are JSON scalars or nested JSON values.
type Row = map[string]any

// Func applies one transform step.
type Func func(ctx context.Context, in []Row, p Params, env *Env) ([]Row, error)

// Params are a step's parameters with signal references already resolved.
type Params struct {
	Raw map[string]any
	// Exprs holds per-row expressions parsed at spec load time.
	Exprs map[string]*vegaexpr.Expr
}

// Decode copies the parameters into a struct tagged with mapstructure tags.
// {"field": "x"} references decode into plain strings and single values
// decode into one-element slices.
func (p Params) Decode(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       fieldRefHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(p.Raw); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func fieldRefHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if ref, ok := data.(map[string]any); ok {
		if name, ok := ref["field"].(string); ok {
			return name, nil
		}
	}
	return data, nil
}

// Env is the state a pipeline's steps share: signal values, other datasets
// and the evaluation time zones. An Env belongs to one pipeline run and is
// not safe for concurrent use.
type Env struct {
	signals       map[string]any
	data          vegaexpr.DataFunc
	location      *time.Location
	inputLocation *time.Location

	declared map[string]any
	scope    *vegaexpr.Scope
}

// NewEnv copies signals and prepares an environment. local is the zone for
// calendar math; input is the zone for date strings without an offset.
func NewEnv(signals map[string]any, data vegaexpr.DataFunc, local, input *time.Location) *Env {
	if local == nil {
		local = time.UTC
	}
	if input == nil {
		input = local
	}
	copied := make(map[string]any, len(signals))
	for k, v := range signals {
		copied[k] = v
	}
	return &Env{
		signals:       copied,
		data:          data,
		location:      local,
		inputLocation: input,
		declared:      make(map[string]any),
	}
}

// Scope returns an expression scope over the current signal values.
func (e *Env) Scope() (*vegaexpr.Scope, error) {
	if e.scope != nil {
		return e.scope, nil
	}
	s, err := vegaexpr.NewScope(e.signals, e.data, e.location)
	if err != nil {
		return nil, err
	}
	e.scope = s
	return s, nil
}

// SetSignal records a signal written by a step. Later steps of the same
// pipeline observe the new value.
func (e *Env) SetSignal(name string, v any) {
	e.signals[name] = v
	e.declared[name] = v
	e.scope = nil
}

// Declared returns the signals written so far.
func (e *Env) Declared() map[string]any { return e.declared }

// Dataset returns the rows of another dataset.
func (e *Env) Dataset(name string) ([]Row, bool) {
	if e.data == nil {
		return nil, false
	}
	return e.data(name)
}

// Location is the zone used for local calendar math.
func (e *Env) Location() *time.Location { return e.location }

// InputLocation is the zone used for date strings without an offset.
func (e *Env) InputLocation() *time.Location { return e.inputLocation }

type registration struct {
	fn     Func
	params map[string]bool
	check  func(raw map[string]any) error
}

var registry = map[string]registration{}

// register adds a transform. params lists every parameter the Func
// understands; any other parameter makes the step unsupported.
func register(name string, fn Func, params []string, check func(map[string]any) error) {
	allowed := map[string]bool{"type": true}
	for _, p := range params {
		allowed[p] = true
	}
	registry[name] = registration{fn: fn, params: allowed, check: check}
}

// Supported lists the registered transform types, sorted.
func Supported() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Check reports why a step cannot run on the server, or nil.
func Check(t *specmodel.Transform) error {
	if t.Unsupported != nil {
		return t.Unsupported
	}
	reg, ok := registry[t.Type]
	if !ok {
		return fmt.Errorf("transform type %q is not supported", t.Type)
	}
	keys := make([]string, 0, len(t.Params))
	for k := range t.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !reg.params[k] {
			return fmt.Errorf("%s parameter %q is not supported", t.Type, k)
		}
	}
	if reg.check != nil {
		return reg.check(t.Params)
	}
	return nil
}

// Run resolves and applies one step.
func Run(ctx context.Context, t *specmodel.Transform, in []Row, env *Env) ([]Row, error) {
	reg, ok := registry[t.Type]
	if !ok {
		return nil, verr.Transform("transform type %q is not supported", t.Type)
	}
	scope, err := env.Scope()
	if err != nil {
		return nil, verr.Wrap(verr.KindTransformEvaluation, err, "%s transform", t.Type)
	}
	raw, err := resolveParams(t, scope)
	if err != nil {
		return nil, verr.Wrap(verr.KindTransformEvaluation, err, "%s transform", t.Type)
	}

	ctxlog.FromContext(ctx).Debug("Applying transform.", "type", t.Type, "index", t.Index, "rows", len(in))
	out, err := reg.fn(ctx, in, Params{Raw: raw, Exprs: t.RowExprs}, env)
	if err != nil {
		return nil, verr.Wrap(verr.KindTransformEvaluation, err, "%s transform at index %d", t.Type, t.Index)
	}
	return out, nil
}

// resolveParams replaces {"signal": ...} references with their values.
func resolveParams(t *specmodel.Transform, scope *vegaexpr.Scope) (map[string]any, error) {
	out := make(map[string]any, len(t.Params))
	for k, v := range t.Params {
		if k == "signal" {
			out[k] = v
			continue
		}
		r, err := resolveValue(v, t, scope)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

func resolveValue(v any, t *specmodel.Transform, scope *vegaexpr.Scope) (any, error) {
	if src, ok := specmodel.IsSignalRef(v); ok {
		e, ok := t.SignalExprs[src]
		if !ok {
			return nil, fmt.Errorf("signal expression %q was not parsed", src)
		}
		return e.Eval(scope, nil)
	}
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := resolveValue(e, t, scope)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := resolveValue(e, t, scope)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}
