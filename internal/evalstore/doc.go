// Package evalstore holds the per-evaluation state of a pre-transform run:
// the rows each dataset produced, the values of signals, and the status and
// error of every graph node.
//
// A Store is created for one evaluation and discarded with it. Nodes of one
// dependency level are evaluated concurrently and write disjoint keys, so
// the store uses sync.Map rather than a single lock. Values are treated as
// immutable once stored: readers may share row slices across goroutines.
package evalstore
