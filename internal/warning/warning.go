// Package warning defines the non-fatal notes an evaluation attaches to its
// result. The set of warning types is closed: only the types in this
// package implement Warning.
package warning

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Warning is a non-fatal note about an evaluation.
type Warning interface {
	// Type is the discriminator written to the "type" key.
	Type() string
	Message() string

	rank() int
	payload() map[string]any
}

// RowLimitExceeded reports a dataset whose inlined rows were truncated.
type RowLimitExceeded struct {
	DatasetName    string
	Limit          int
	ActualRowCount int
}

func (RowLimitExceeded) Type() string { return "RowLimitExceeded" }

func (w RowLimitExceeded) Message() string {
	return fmt.Sprintf("dataset %q was truncated to %d of %d rows", w.DatasetName, w.Limit, w.ActualRowCount)
}

func (RowLimitExceeded) rank() int { return 0 }

func (w RowLimitExceeded) payload() map[string]any {
	return map[string]any{"datasetName": w.DatasetName, "limit": w.Limit, "actualRowCount": w.ActualRowCount}
}

// BrokenInteractivity names interactive signals whose dependent data was
// inlined, so interacting with them no longer changes the chart.
type BrokenInteractivity struct {
	SignalNames []string
}

func (BrokenInteractivity) Type() string { return "BrokenInteractivity" }

func (w BrokenInteractivity) Message() string {
	return "interactive signals no longer affect pre-transformed data: " + strings.Join(w.SignalNames, ", ")
}

func (BrokenInteractivity) rank() int { return 1 }

func (w BrokenInteractivity) payload() map[string]any {
	return map[string]any{"signalNames": nonNil(w.SignalNames)}
}

// Unsupported names datasets left for the client to evaluate.
type Unsupported struct {
	DatasetNames []string
}

func (Unsupported) Type() string { return "Unsupported" }

func (w Unsupported) Message() string {
	return "datasets were left for client-side evaluation: " + strings.Join(w.DatasetNames, ", ")
}

func (Unsupported) rank() int { return 2 }

func (w Unsupported) payload() map[string]any {
	return map[string]any{"datasetNames": nonNil(w.DatasetNames)}
}

// Planner is a free-form note from the planner.
type Planner struct {
	Text string
}

func (Planner) Type() string { return "Planner" }

func (w Planner) Message() string { return w.Text }

func (Planner) rank() int { return 3 }

func (Planner) payload() map[string]any { return nil }

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

// Sort orders warnings by type: row-limit warnings first, then broken
// interactivity, unsupported datasets and planner notes. Warnings of the
// same type keep their relative order.
func Sort(ws []Warning) {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].rank() < ws[j].rank() })
}

// Object renders a warning as its wire object.
func Object(w Warning) map[string]any {
	out := map[string]any{"type": w.Type(), "message": w.Message()}
	for k, v := range w.payload() {
		out[k] = v
	}
	return out
}

// Marshal encodes a list of warnings as a JSON array. A nil list encodes
// as [].
func Marshal(ws []Warning) ([]byte, error) {
	objs := make([]map[string]any, len(ws))
	for i, w := range ws {
		objs[i] = Object(w)
	}
	return json.Marshal(objs)
}
