package specmodel

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/vk/vegaprecompute/internal/vegaexpr"
	"github.com/vk/vegaprecompute/internal/verr"
)

// rowExprParams lists, per transform type, the parameters holding a
// per-row expression.
var rowExprParams = map[string][]string{
	"filter":  {"expr"},
	"formula": {"expr"},
}

// Parse decodes and validates a specification document.
func Parse(text []byte) (*Spec, error) {
	var decoded any
	if err := json.Unmarshal(text, &decoded); err != nil {
		return nil, verr.Wrap(verr.KindMalformedDocument, err, "specification is not valid JSON")
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return nil, verr.Malformed("specification must be a JSON object, got %s", jsonKind(decoded))
	}
	return FromDocument(doc)
}

// FromDocument builds a Spec from an already decoded document. The map is
// retained, not copied.
func FromDocument(doc map[string]any) (*Spec, error) {
	if err := validateStructure(doc); err != nil {
		return nil, err
	}

	s := &Spec{
		Raw:           doc,
		datasetByName: make(map[string]*Dataset),
		signalByName:  make(map[string]*Signal),
	}
	if err := s.buildSignals(); err != nil {
		return nil, err
	}
	if err := s.buildDatasets(); err != nil {
		return nil, err
	}
	if err := s.resolve(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Spec) buildSignals() error {
	declared := make(map[string]bool)
	rawSignals, _ := s.Raw["signals"].([]any)
	for _, item := range rawSignals {
		name, _ := item.(map[string]any)["name"].(string)
		if declared[name] {
			return verr.Malformed("duplicate signal name %q", name)
		}
		declared[name] = true
	}

	for _, name := range BuiltinSignals {
		if declared[name] {
			continue
		}
		sig := &Signal{Name: name, Index: len(s.Signals), Builtin: true}
		sig.Value, sig.HasValue = s.Raw[name]
		if !sig.HasValue {
			sig.Value, sig.HasValue = builtinDefault(name)
		}
		if ref, ok := sig.Value.(map[string]any); ok {
			if src, ok := ref["signal"].(string); ok {
				// Top-level width/height given as an expression.
				sig.Value, sig.HasValue = nil, false
				sig.Update = src
				sig.UpdateExpr, sig.Unsupported = vegaexpr.Parse(src)
			}
		}
		s.addSignal(sig)
	}

	for _, item := range rawSignals {
		raw := item.(map[string]any)
		sig := &Signal{Name: raw["name"].(string), Index: len(s.Signals), Raw: raw}
		sig.Value, sig.HasValue = raw["value"]
		_, hasBind := raw["bind"]
		_, hasOn := raw["on"]
		sig.Interactive = hasBind || hasOn

		if src, ok := raw["update"].(string); ok {
			sig.Update = src
		} else if src, ok := raw["init"].(string); ok {
			sig.Update = src
			sig.InitOnly = true
		}
		if sig.Update != "" {
			sig.UpdateExpr, sig.Unsupported = vegaexpr.Parse(sig.Update)
			if sig.UpdateExpr != nil && sig.UpdateExpr.UsesDatum() {
				sig.UpdateExpr, sig.Unsupported = nil, fmt.Errorf("signal %q reads datum outside a row context", sig.Name)
			}
		}
		if _, nested := raw["push"]; nested {
			sig.Unsupported = fmt.Errorf("signal %q pushes to an outer scope", sig.Name)
		}
		s.addSignal(sig)
	}
	return nil
}

func builtinDefault(name string) (any, bool) {
	switch name {
	case "width", "height", "padding":
		return 0.0, true
	case "autosize":
		return "pad", true
	}
	return nil, true
}

func (s *Spec) addSignal(sig *Signal) {
	s.Signals = append(s.Signals, sig)
	s.signalByName[sig.Name] = sig
}

func (s *Spec) buildDatasets() error {
	rawData, _ := s.Raw["data"].([]any)
	for i, item := range rawData {
		raw := item.(map[string]any)
		d := &Dataset{Name: raw["name"].(string), Index: i, Raw: raw}
		if _, dup := s.datasetByName[d.Name]; dup {
			return verr.Malformed("duplicate dataset name %q", d.Name)
		}

		if format, ok := raw["format"].(map[string]any); ok {
			d.Format = format
		}
		_, d.HasTriggers = raw["on"]

		switch {
		case raw["values"] != nil:
			d.Kind = SourceInline
			d.Values = raw["values"]
		case raw["url"] != nil:
			d.Kind = SourceURL
			if url, ok := raw["url"].(string); ok {
				d.URL = url
			} else {
				d.Unsupported = fmt.Errorf("dataset %q loads from a signal-driven url", d.Name)
			}
		case raw["source"] != nil:
			d.Kind = SourceDerived
			switch src := raw["source"].(type) {
			case string:
				d.Sources = []string{src}
			case []any:
				for _, name := range src {
					d.Sources = append(d.Sources, name.(string))
				}
			}
		default:
			d.Kind = SourceEmpty
		}

		rawTransforms, _ := raw["transform"].([]any)
		for j, rt := range rawTransforms {
			t := parseTransform(j, rt.(map[string]any))
			d.Transforms = append(d.Transforms, t)
			for _, name := range t.Declares {
				if existing, ok := s.signalByName[name]; ok && !existing.Builtin {
					return verr.Malformed("signal %q declared by dataset %q is already defined", name, d.Name)
				}
				s.addSignal(&Signal{Name: name, Index: len(s.Signals), DeclaredBy: d.Name})
			}
		}

		s.Datasets = append(s.Datasets, d)
		s.datasetByName[d.Name] = d
	}
	return nil
}

func parseTransform(index int, raw map[string]any) *Transform {
	t := &Transform{
		Type:        raw["type"].(string),
		Index:       index,
		Params:      raw,
		SignalExprs: make(map[string]*vegaexpr.Expr),
		RowExprs:    make(map[string]*vegaexpr.Expr),
		Refs:        vegaexpr.NewContainer(),
	}

	if name, ok := raw["signal"].(string); ok {
		t.Declares = append(t.Declares, name)
	}
	if t.Type == "lookup" {
		if from, ok := raw["from"].(string); ok {
			t.Lookups = append(t.Lookups, from)
		}
	}

	for _, key := range rowExprParams[t.Type] {
		src, ok := raw[key].(string)
		if !ok {
			continue
		}
		e, err := vegaexpr.Parse(src)
		if err != nil {
			t.Unsupported = err
			continue
		}
		t.RowExprs[key] = e
		t.Refs.Add(e)
	}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		if key != "signal" && key != "type" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		walkSignalRefs(raw[key], func(src string) {
			if _, seen := t.SignalExprs[src]; seen {
				return
			}
			e, err := vegaexpr.Parse(src)
			if err != nil {
				t.Unsupported = err
				return
			}
			if e.UsesDatum() {
				t.Unsupported = fmt.Errorf("signal parameter %q reads datum", src)
				return
			}
			t.SignalExprs[src] = e
			t.Refs.Add(e)
		})
	}
	return t
}

// walkSignalRefs calls fn for every {"signal": "<expr>"} object nested in v.
func walkSignalRefs(v any, fn func(src string)) {
	switch x := v.(type) {
	case map[string]any:
		if src, ok := x["signal"].(string); ok && len(x) == 1 {
			fn(src)
			return
		}
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkSignalRefs(x[k], fn)
		}
	case []any:
		for _, item := range x {
			walkSignalRefs(item, fn)
		}
	}
}

// IsSignalRef reports whether v is a {"signal": "<expr>"} object and
// returns the expression text.
func IsSignalRef(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	src, ok := m["signal"].(string)
	return src, ok
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	default:
		return "object"
	}
}

func sortedNames(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
