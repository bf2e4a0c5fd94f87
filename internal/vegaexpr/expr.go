package vegaexpr

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// DatumVar is the root variable holding the current row.
const DatumVar = "datum"

var constants = map[string]cty.Value{
	"PI": cty.NumberFloatVal(math.Pi),
	"E":  cty.NumberFloatVal(math.E),
}

// References lists what an expression reads. Every slice is sorted.
type References struct {
	Signals   []string
	Datasets  []string
	Fields    []string
	Functions []string
}

// Expr is a parsed expression ready for repeated evaluation.
type Expr struct {
	src  string
	hcl  string
	expr hclsyntax.Expression
	refs References
}

// EvalError is returned when an expression fails for a reason other than a
// null operand.
type EvalError struct {
	Expr  string
	Diags hcl.Diagnostics
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("expression %q failed: %s", e.Expr, e.Diags.Error())
}

// Parse translates and parses src. Unknown functions, data() calls with a
// computed dataset name, the .length property and syntax the translator
// rejects are all errors; callers treat such expressions as unsupported.
func Parse(src string) (*Expr, error) {
	translated, err := Translate(src)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	parsed, diags := hclsyntax.ParseExpression([]byte(translated), "expr", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("expression %q: %s", src, diags.Error())
	}
	if err := rejectLengthProperty(parsed); err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	loosen(parsed)

	refs, err := extractReferences(parsed)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", src, err)
	}
	return &Expr{src: src, hcl: translated, expr: parsed, refs: refs}, nil
}

// Source returns the expression text as written in the document.
func (e *Expr) Source() string { return e.src }

// References reports the signals, datasets, row fields and functions read.
func (e *Expr) References() References { return e.refs }

// UsesDatum reports whether the expression reads the current row.
func (e *Expr) UsesDatum() bool {
	for _, t := range e.expr.Variables() {
		if t.RootName() == DatumVar {
			return true
		}
	}
	return false
}

// Eval evaluates the expression against a scope and an optional row. A
// failure caused by a null or missing operand yields a nil result; Vega
// evaluates such expressions to null or false rather than raising.
func (e *Expr) Eval(s *Scope, datum map[string]any) (any, error) {
	ctx := s.ctx
	if datum != nil {
		obj, err := datumValue(datum, e.refs.Fields)
		if err != nil {
			return nil, err
		}
		ctx = s.ctx.NewChild()
		ctx.Variables = map[string]cty.Value{DatumVar: obj}
	}

	val, diags := e.expr.Value(ctx)
	if diags.HasErrors() {
		if e.hasNullOperand(s, datum) || isMissingLookup(diags) {
			return nil, nil
		}
		return nil, &EvalError{Expr: e.src, Diags: diags}
	}
	return FromCty(val)
}

func (e *Expr) hasNullOperand(s *Scope, datum map[string]any) bool {
	for _, f := range e.refs.Fields {
		if v, ok := datum[f]; !ok || v == nil {
			return true
		}
	}
	for _, name := range e.refs.Signals {
		if v, ok := s.signals[name]; !ok || v.IsNull() {
			return true
		}
	}
	return false
}

func isMissingLookup(diags hcl.Diagnostics) bool {
	for _, d := range diags {
		switch d.Summary {
		case "Unsupported attribute", "Invalid index":
			return true
		}
	}
	return false
}

// datumValue builds the row object, adding referenced but absent fields as
// nulls so attribute access never fails on sparse rows.
func datumValue(datum map[string]any, fields []string) (cty.Value, error) {
	attrs := make(map[string]cty.Value, len(datum)+len(fields))
	for k, v := range datum {
		cv, err := ToCty(v)
		if err != nil {
			return cty.NilVal, fmt.Errorf("field %q: %w", k, err)
		}
		attrs[k] = cv
	}
	for _, f := range fields {
		if _, ok := attrs[f]; !ok {
			attrs[f] = cty.NullVal(cty.DynamicPseudoType)
		}
	}
	if len(attrs) == 0 {
		return cty.EmptyObjectVal, nil
	}
	return cty.ObjectVal(attrs), nil
}

// DataFunc returns the rows of a named dataset.
type DataFunc func(name string) ([]map[string]any, bool)

// Scope binds signal values, dataset access and the calendar time zone for a
// batch of evaluations. It is safe for concurrent use.
type Scope struct {
	location *time.Location
	signals  map[string]cty.Value
	data     DataFunc
	ctx      *hcl.EvalContext

	mu        sync.Mutex
	dataCache map[string]cty.Value
}

// NewScope prepares an evaluation scope. loc defaults to UTC.
func NewScope(signals map[string]any, data DataFunc, loc *time.Location) (*Scope, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Scope{
		location:  loc,
		signals:   make(map[string]cty.Value, len(signals)+len(constants)),
		data:      data,
		dataCache: make(map[string]cty.Value),
	}
	for name, v := range constants {
		s.signals[name] = v
	}
	for name, v := range signals {
		cv, err := ToCty(v)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", name, err)
		}
		s.signals[name] = cv
	}
	s.ctx = &hcl.EvalContext{
		Variables: s.signals,
		Functions: s.functions(),
	}
	return s, nil
}

func (s *Scope) dataset(name string) (cty.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.dataCache[name]; ok {
		return v, nil
	}
	if s.data == nil {
		return cty.NilVal, fmt.Errorf("dataset %q is not available", name)
	}
	rows, ok := s.data(name)
	if !ok {
		return cty.NilVal, fmt.Errorf("dataset %q is not available", name)
	}
	items := make([]any, len(rows))
	for i, r := range rows {
		items[i] = r
	}
	v, err := ToCty(items)
	if err != nil {
		return cty.NilVal, err
	}
	s.dataCache[name] = v
	return v, nil
}

var (
	knownOnce      sync.Once
	knownFunctions map[string]bool
)

func isKnownFunction(name string) bool {
	knownOnce.Do(func() {
		knownFunctions = make(map[string]bool)
		for fn := range (&Scope{location: time.UTC}).functions() {
			knownFunctions[fn] = true
		}
	})
	return knownFunctions[name]
}

// extractReferences walks the parsed expression for signals, row fields,
// functions and literal data() arguments. Results are sorted.
func extractReferences(expr hclsyntax.Expression) (References, error) {
	signals := make(map[string]struct{})
	fields := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		if root == DatumVar {
			if len(traversal) > 1 {
				if name, ok := stepName(traversal[1]); ok {
					fields[name] = struct{}{}
				}
			}
			continue
		}
		if _, ok := constants[root]; ok {
			continue
		}
		signals[root] = struct{}{}
	}

	calls := make(map[string]struct{})
	datasets := make(map[string]struct{})
	var walkErr error
	walk(expr, func(node hclsyntax.Expression) {
		switch n := node.(type) {
		case *hclsyntax.IndexExpr:
			// datum["field"] when the parser did not fold it into a traversal.
			if root, ok := n.Collection.(*hclsyntax.ScopeTraversalExpr); ok && root.Traversal.RootName() == DatumVar && len(root.Traversal) == 1 {
				if name, ok := literalString([]hclsyntax.Expression{n.Key}); ok {
					fields[name] = struct{}{}
				}
			}
		case *hclsyntax.FunctionCallExpr:
			calls[n.Name] = struct{}{}
			if n.Name != "data" || walkErr != nil {
				return
			}
			name, ok := literalString(n.Args)
			if !ok {
				walkErr = fmt.Errorf("data() requires a literal dataset name")
				return
			}
			datasets[name] = struct{}{}
		}
	})
	if walkErr != nil {
		return References{}, walkErr
	}

	functions := make(map[string]struct{}, len(calls))
	for name := range calls {
		if !isKnownFunction(name) {
			return References{}, fmt.Errorf("unknown function %q", name)
		}
		if name == "if_" {
			name = "if"
		}
		functions[name] = struct{}{}
	}

	return References{
		Signals:   sortedSet(signals),
		Datasets:  sortedSet(datasets),
		Fields:    sortedSet(fields),
		Functions: sortedSet(functions),
	}, nil
}

// rejectLengthProperty refuses the .length property of strings and arrays,
// which attribute access cannot express. datum.length still names a field.
func rejectLengthProperty(expr hclsyntax.Expression) error {
	check := func(t hcl.Traversal, from int) error {
		for i := from; i < len(t); i++ {
			if name, ok := t[i].(hcl.TraverseAttr); ok && name.Name == "length" {
				return fmt.Errorf("the length property is not supported, use length()")
			}
		}
		return nil
	}
	for _, t := range expr.Variables() {
		from := 1
		if t.RootName() == DatumVar {
			from = 2
		}
		if err := check(t, from); err != nil {
			return err
		}
	}
	var err error
	walk(expr, func(node hclsyntax.Expression) {
		if n, ok := node.(*hclsyntax.RelativeTraversalExpr); ok && err == nil {
			err = check(n.Traversal, 0)
		}
	})
	return err
}

func stepName(step hcl.Traverser) (string, bool) {
	switch s := step.(type) {
	case hcl.TraverseAttr:
		return s.Name, true
	case hcl.TraverseIndex:
		if s.Key.Type() == cty.String && !s.Key.IsNull() {
			return s.Key.AsString(), true
		}
	}
	return "", false
}

func literalString(args []hclsyntax.Expression) (string, bool) {
	if len(args) != 1 || len(args[0].Variables()) > 0 {
		return "", false
	}
	v, diags := args[0].Value(nil)
	if diags.HasErrors() || v.IsNull() || v.Type() != cty.String {
		return "", false
	}
	return v.AsString(), true
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// walk recursively visits every expression node of the AST.
func walk(expr hclsyntax.Expression, visit func(hclsyntax.Expression)) {
	if expr == nil {
		return
	}
	visit(expr)
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		for _, arg := range e.Args {
			walk(arg, visit)
		}
	case *hclsyntax.BinaryOpExpr:
		walk(e.LHS, visit)
		walk(e.RHS, visit)
	case *hclsyntax.ConditionalExpr:
		walk(e.Condition, visit)
		walk(e.TrueResult, visit)
		walk(e.FalseResult, visit)
	case *hclsyntax.UnaryOpExpr:
		walk(e.Val, visit)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walk(part, visit)
		}
	case *hclsyntax.TemplateWrapExpr:
		walk(e.Wrapped, visit)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walk(item, visit)
		}
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			walk(item.ValueExpr, visit)
		}
	case *hclsyntax.IndexExpr:
		walk(e.Collection, visit)
		walk(e.Key, visit)
	case *hclsyntax.RelativeTraversalExpr:
		walk(e.Source, visit)
	case *hclsyntax.ParenthesesExpr:
		walk(e.Expression, visit)
	}
}
