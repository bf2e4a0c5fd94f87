// Package vegaexpr parses and evaluates the expression subset used by
// transform parameters and signal updates. Expressions are translated into
// HCL native syntax and evaluated with go-cty values.
package vegaexpr

import (
	"sync"
)

// Container is a thread-safe helper that gathers the expressions of one
// pipeline (a dataset's transforms or a signal's update) and reports their
// combined references.
type Container struct {
	// analyzeOnce ensures the merge runs exactly once per set of expressions.
	analyzeOnce sync.Once

	mu          sync.RWMutex
	expressions []*Expr

	refs References
}

// NewContainer creates a new, empty expression container.
func NewContainer() *Container {
	return &Container{}
}

// Add adds one or more expressions to the container for analysis.
// It safely ignores any nil expressions.
func (c *Container) Add(exprs ...*Expr) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Adding new expressions resets the analysis. Adds happen while a
	// document is being parsed, which is single-threaded.
	c.analyzeOnce = sync.Once{}

	for _, expr := range exprs {
		if expr != nil {
			c.expressions = append(c.expressions, expr)
		}
	}
}

// Len returns the number of collected expressions.
func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.expressions)
}

func (c *Container) analyze() {
	c.analyzeOnce.Do(func() {
		c.mu.RLock()
		signals := make(map[string]struct{})
		datasets := make(map[string]struct{})
		fields := make(map[string]struct{})
		functions := make(map[string]struct{})
		for _, e := range c.expressions {
			for _, s := range e.refs.Signals {
				signals[s] = struct{}{}
			}
			for _, d := range e.refs.Datasets {
				datasets[d] = struct{}{}
			}
			for _, f := range e.refs.Fields {
				fields[f] = struct{}{}
			}
			for _, f := range e.refs.Functions {
				functions[f] = struct{}{}
			}
		}
		c.mu.RUnlock()

		c.mu.Lock()
		c.refs = References{
			Signals:   sortedSet(signals),
			Datasets:  sortedSet(datasets),
			Fields:    sortedSet(fields),
			Functions: sortedSet(functions),
		}
		c.mu.Unlock()
	})
}

// References returns the union of every collected expression's references.
func (c *Container) References() References {
	c.analyze()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refs
}

// Signals is shorthand for References().Signals.
func (c *Container) Signals() []string {
	return c.References().Signals
}

// Datasets is shorthand for References().Datasets.
func (c *Container) Datasets() []string {
	return c.References().Datasets
}
