package evaluator

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/internal/evalstore"
	"github.com/vk/vegaprecompute/internal/specmodel"
	"github.com/vk/vegaprecompute/internal/warning"
)

// assemble rewrites a copy of the input document with the evaluated rows.
func (r *run) assemble(ctx context.Context) (*Result, error) {
	doc := r.spec.CloneRaw()
	var warnings []warning.Warning

	inlined := make(map[string]bool)
	rawData, _ := doc["data"].([]any)
	for _, id := range r.plan.order() {
		name, ok := strings.CutPrefix(id, dataPrefix)
		if !ok || r.store.Status(id) != evalstore.StatusCompleted {
			continue
		}
		d, _ := r.spec.Dataset(name)
		if !d.HasTransforms() && d.Kind != specmodel.SourceURL {
			// The client derives these without running any transform.
			continue
		}

		rows, _ := r.store.Dataset(name)
		if limit := r.ectx.RowLimit; limit > 0 && len(rows) > limit {
			warnings = append(warnings, warning.RowLimitExceeded{
				DatasetName:    name,
				Limit:          limit,
				ActualRowCount: len(rows),
			})
			rows = rows[:limit]
		}
		rawData[d.Index] = map[string]any{"name": name, "values": rows}
		inlined[name] = true
	}

	r.appendDeclaredSignals(doc, inlined)
	if !r.ectx.PreserveInteractivity {
		r.collapseUpdates(doc)
		if names := r.brokenInteractivity(inlined); len(names) > 0 {
			warnings = append(warnings, warning.BrokenInteractivity{SignalNames: names})
		}
	}

	var clientData []string
	for _, d := range r.spec.Datasets {
		if r.store.Status(dataID(d.Name)) == evalstore.StatusClientSide {
			clientData = append(clientData, d.Name)
		}
	}
	if len(clientData) > 0 {
		warnings = append(warnings, warning.Unsupported{DatasetNames: clientData})
	}
	for _, root := range r.plan.roots {
		warnings = append(warnings, warning.Planner{Text: fmt.Sprintf("%s left for the client: %v", displayPath([]string{root.id})[0], root.reason)})
	}
	warning.Sort(warnings)

	spec, err := specmodel.Encode(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	warningsJSON, err := warning.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode warnings: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("Result assembled.", "inlined", len(inlined), "warnings", len(warnings))
	return &Result{Spec: spec, Warnings: warnings, WarningsJSON: warningsJSON}, nil
}

// appendDeclaredSignals adds the signals written by inlined pipelines so
// marks and scales that read them still resolve.
func (r *run) appendDeclaredSignals(doc map[string]any, inlined map[string]bool) {
	signals, _ := doc["signals"].([]any)
	seen := make(map[string]bool)
	for _, d := range r.spec.Datasets {
		if !inlined[d.Name] {
			continue
		}
		for _, name := range d.DeclaredSignals() {
			if seen[name] {
				continue
			}
			seen[name] = true
			v, _ := r.store.Signal(name)
			signals = append(signals, map[string]any{"name": name, "value": v})
		}
	}
	if len(seen) > 0 {
		doc["signals"] = signals
	}
}

// collapseUpdates replaces the update expression of server-evaluated,
// non-interactive signals with the value it produced.
func (r *run) collapseUpdates(doc map[string]any) {
	signals, _ := doc["signals"].([]any)
	for _, item := range signals {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := raw["name"].(string)
		sig, ok := r.spec.Signal(name)
		if !ok || sig.Builtin || sig.DeclaredBy != "" || sig.Interactive || sig.UpdateExpr == nil {
			continue
		}
		if r.plan.clientSide[signalID(name)] {
			continue
		}
		v, _ := r.store.Signal(name)
		raw["value"] = v
		delete(raw, "update")
		delete(raw, "init")
	}
}

// brokenInteractivity names interactive signals whose dependents were
// replaced by literal rows.
func (r *run) brokenInteractivity(inlined map[string]bool) []string {
	var names []string
	for _, sig := range r.spec.Signals {
		if !sig.Interactive {
			continue
		}
		for _, id := range r.plan.graph.Descendants(signalID(sig.Name)) {
			if name, ok := strings.CutPrefix(id, dataPrefix); ok && inlined[name] {
				names = append(names, sig.Name)
				break
			}
		}
	}
	return names
}
