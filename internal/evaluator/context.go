package evaluator

import (
	"fmt"
	"time"

	"github.com/vk/vegaprecompute/internal/warning"
)

// Context holds the per-call evaluation settings.
type Context struct {
	// LocalTimeZone is used for calendar math. Defaults to UTC.
	LocalTimeZone *time.Location
	// DefaultInputTimeZone is used for date strings without an explicit
	// offset. Defaults to LocalTimeZone.
	DefaultInputTimeZone *time.Location
	// RowLimit caps the rows inlined per dataset. Zero means unbounded.
	RowLimit int
	// PreserveInteractivity keeps interactive signals and everything that
	// depends on them on the client.
	PreserveInteractivity bool
}

// Normalize fills in defaults.
func (c Context) Normalize() Context {
	if c.LocalTimeZone == nil {
		c.LocalTimeZone = time.UTC
	}
	if c.DefaultInputTimeZone == nil {
		c.DefaultInputTimeZone = c.LocalTimeZone
	}
	if c.RowLimit < 0 {
		c.RowLimit = 0
	}
	return c
}

// Key renders the normalized context for fingerprinting.
func (c Context) Key() string {
	n := c.Normalize()
	return fmt.Sprintf("tz=%s;input=%s;limit=%d;preserve=%t",
		n.LocalTimeZone, n.DefaultInputTimeZone, n.RowLimit, n.PreserveInteractivity)
}

// Result is the immutable outcome of one evaluation.
type Result struct {
	Spec         []byte
	Warnings     []warning.Warning
	WarningsJSON []byte
}

// resultOverhead approximates the bookkeeping of a cached result.
const resultOverhead = 128

// Size estimates the memory a cached result holds, in bytes.
func (r *Result) Size() int64 {
	n := int64(len(r.Spec) + len(r.WarningsJSON) + resultOverhead)
	for _, w := range r.Warnings {
		n += int64(len(w.Message()))
	}
	return n
}
