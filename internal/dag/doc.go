// Package dag holds the dependency graph between datasets and signals of a
// specification. Node IDs are opaque strings; the evaluator uses the
// "data:<name>" and "signal:<name>" conventions.
//
// Every traversal (dependencies, topological order, levels) is ordered by
// node insertion, never by map iteration, so evaluation order and therefore
// warning order are reproducible across runs.
package dag
