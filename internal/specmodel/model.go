package specmodel

import (
	"github.com/vk/vegaprecompute/internal/vegaexpr"
)

// SourceKind describes where a dataset's input rows come from.
type SourceKind int

const (
	SourceEmpty SourceKind = iota
	SourceInline
	SourceURL
	SourceDerived
)

func (k SourceKind) String() string {
	switch k {
	case SourceInline:
		return "inline"
	case SourceURL:
		return "url"
	case SourceDerived:
		return "derived"
	default:
		return "empty"
	}
}

// BuiltinSignals are implicit signals backed by top-level properties.
var BuiltinSignals = []string{"width", "height", "padding", "autosize", "background"}

// Spec is a parsed specification.
type Spec struct {
	// Raw is the decoded document. Treat as read-only; use CloneRaw to edit.
	Raw map[string]any

	Datasets []*Dataset
	Signals  []*Signal

	datasetByName map[string]*Dataset
	signalByName  map[string]*Signal
}

// Dataset is one entry of the top-level data array.
type Dataset struct {
	Name  string
	Index int
	Kind  SourceKind

	Values  any
	URL     string
	Format  map[string]any
	Sources []string

	Transforms []*Transform

	// HasTriggers is set for datasets modified by interaction (an "on" block).
	HasTriggers bool
	// Unsupported is non-nil when the dataset cannot be evaluated on the
	// server, for example a URL given as a signal.
	Unsupported error

	Raw map[string]any
}

// Transform is one step of a dataset pipeline.
type Transform struct {
	Type   string
	Index  int
	Params map[string]any

	// SignalExprs holds the parsed {"signal": ...} parameters keyed by their text.
	SignalExprs map[string]*vegaexpr.Expr
	// RowExprs holds parsed per-row expressions keyed by parameter name.
	RowExprs map[string]*vegaexpr.Expr
	// Declares lists signals this step writes.
	Declares []string
	// Lookups lists datasets this step reads besides its input.
	Lookups []string

	Refs *vegaexpr.Container

	Unsupported error
}

// Signal is a top-level or built-in signal.
type Signal struct {
	Name  string
	Index int

	Value    any
	HasValue bool

	// Update is the update (or init) expression, empty when the signal is a
	// literal.
	Update     string
	UpdateExpr *vegaexpr.Expr
	// InitOnly is set when the expression came from "init".
	InitOnly bool

	// Interactive is set when the signal has a "bind" or "on" block.
	Interactive bool
	// Builtin marks implicit signals backed by top-level properties.
	Builtin bool
	// DeclaredBy names the dataset whose transform writes this signal.
	DeclaredBy string

	Unsupported error

	Raw map[string]any
}

// Dataset looks up a dataset by name.
func (s *Spec) Dataset(name string) (*Dataset, bool) {
	d, ok := s.datasetByName[name]
	return d, ok
}

// Signal looks up a declared, built-in or transform-declared signal by name.
func (s *Spec) Signal(name string) (*Signal, bool) {
	sig, ok := s.signalByName[name]
	return sig, ok
}

// HasTransforms reports whether the dataset has any transform step.
func (d *Dataset) HasTransforms() bool { return len(d.Transforms) > 0 }

// SignalRefs returns every signal the dataset's pipeline reads, sorted.
func (d *Dataset) SignalRefs() []string {
	set := make(map[string]struct{})
	for _, t := range d.Transforms {
		if t.Refs == nil {
			continue
		}
		for _, name := range t.Refs.Signals() {
			set[name] = struct{}{}
		}
	}
	return sortedNames(set)
}

// DatasetRefs returns datasets read by the pipeline other than its sources,
// in first-reference order.
func (d *Dataset) DatasetRefs() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, t := range d.Transforms {
		for _, name := range t.Lookups {
			add(name)
		}
		if t.Refs != nil {
			for _, name := range t.Refs.Datasets() {
				add(name)
			}
		}
	}
	return out
}

// DeclaredSignals lists the signals written by the pipeline's transforms.
func (d *Dataset) DeclaredSignals() []string {
	var out []string
	for _, t := range d.Transforms {
		out = append(out, t.Declares...)
	}
	return out
}

// UnsupportedReason returns the first reason the dataset cannot be evaluated
// on the server, or nil.
func (d *Dataset) UnsupportedReason() error {
	if d.Unsupported != nil {
		return d.Unsupported
	}
	for _, t := range d.Transforms {
		if t.Unsupported != nil {
			return t.Unsupported
		}
	}
	return nil
}
