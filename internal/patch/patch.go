// Package patch updates a previously inlined specification in place when a
// new specification differs from the old one only in presentation
// properties, so the data pipelines need not run again.
//
// Every edit between the old and new specification is checked against an
// explicit table of patchable paths. A single edit outside the table, or a
// change to a built-in signal that feeds a data pipeline, rejects the whole
// patch.
package patch

import (
	"context"
	"strconv"

	"github.com/xeipuuv/gojsonpointer"

	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/internal/specmodel"
	"github.com/vk/vegaprecompute/internal/verr"
)

// Patch applies the difference between oldSpec and newSpec to oldResult.
// It returns nil with a nil error when the difference cannot be patched,
// and an error only when one of the documents is malformed.
func Patch(ctx context.Context, oldSpec, oldResult, newSpec []byte) ([]byte, error) {
	logger := ctxlog.FromContext(ctx)

	before, err := specmodel.Parse(oldSpec)
	if err != nil {
		return nil, err
	}
	result, err := specmodel.Parse(oldResult)
	if err != nil {
		return nil, err
	}
	after, err := specmodel.Parse(newSpec)
	if err != nil {
		return nil, err
	}

	ops, err := Diff(before.Raw, after.Raw)
	if err != nil {
		return nil, verr.Wrap(verr.KindMalformedDocument, err, "failed to compare specifications")
	}
	for _, op := range ops {
		if !classify(op) {
			logger.Debug("Patch rejected.", "reason", "path is not patchable", "path", op.Pointer())
			return nil, nil
		}
	}
	if name, ok := consumedBuiltin(ops, after); ok {
		logger.Debug("Patch rejected.", "reason", "built-in signal feeds a data pipeline", "signal", name)
		return nil, nil
	}

	doc := result.CloneRaw()
	for _, op := range ops {
		if !apply(doc, op) {
			logger.Debug("Patch rejected.", "reason", "path is missing from the result", "path", op.Pointer())
			return nil, nil
		}
	}
	arrayify(doc, after.Raw)

	logger.Debug("Patch applied.", "operations", len(ops))
	return specmodel.Encode(doc)
}

// consumedBuiltin returns a changed built-in signal that any dataset or
// expression signal of the new specification reads, directly or through
// other signals. Expression signals count because pre-transform replaces
// their expressions with the values they produced.
func consumedBuiltin(ops []Op, spec *specmodel.Spec) (string, bool) {
	changed := make(map[string]bool)
	for _, op := range ops {
		for _, name := range specmodel.BuiltinSignals {
			if op.Path[0] == name {
				changed[name] = true
			}
		}
	}
	if len(changed) == 0 {
		return "", false
	}

	feeding := make(map[string]bool)
	var queue []string
	for _, d := range spec.Datasets {
		queue = append(queue, d.SignalRefs()...)
	}
	for _, sig := range spec.Signals {
		if !sig.Builtin && sig.UpdateExpr != nil {
			queue = append(queue, sig.Name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if feeding[name] {
			continue
		}
		feeding[name] = true
		if sig, ok := spec.Signal(name); ok && sig.UpdateExpr != nil {
			queue = append(queue, sig.UpdateExpr.References().Signals...)
		}
	}

	for _, name := range specmodel.BuiltinSignals {
		if changed[name] && feeding[name] {
			return name, true
		}
	}
	return "", false
}

// apply performs one edit on doc. It reports false when the target, or for
// an addition its parent, does not exist.
func apply(doc map[string]any, op Op) bool {
	ptr, err := gojsonpointer.NewJsonPointer(op.Pointer())
	if err != nil {
		return false
	}
	parentPtr, err := gojsonpointer.NewJsonPointer(Op{Path: op.Path[:len(op.Path)-1]}.Pointer())
	if err != nil {
		return false
	}
	parent, _, err := parentPtr.Get(doc)
	if err != nil {
		return false
	}

	last := op.Path[len(op.Path)-1]
	exists := false
	switch p := parent.(type) {
	case map[string]any:
		_, exists = p[last]
	case []any:
		// Arrays whose length changed are replaced whole by the diff, so only
		// in-place element replacements reach an array parent.
		i, err := strconv.Atoi(last)
		if op.Kind != OpReplace || err != nil || i < 0 || i >= len(p) {
			return false
		}
		exists = true
	default:
		return false
	}

	switch op.Kind {
	case OpAdd:
		_, err = ptr.Set(doc, specmodel.DeepCopy(op.Value))
	case OpReplace:
		if !exists {
			return false
		}
		_, err = ptr.Set(doc, specmodel.DeepCopy(op.Value))
	case OpRemove:
		if !exists {
			return false
		}
		_, err = ptr.Delete(doc)
	}
	return err == nil
}

// arrayify turns objects whose keys are exactly 0..n-1 back into arrays
// wherever the model document holds an array.
func arrayify(v any, model any) any {
	switch x := v.(type) {
	case map[string]any:
		if arr, ok := model.([]any); ok {
			if items, ok := indexedItems(x); ok {
				for i := range items {
					var m any
					if i < len(arr) {
						m = arr[i]
					}
					items[i] = arrayify(items[i], m)
				}
				return items
			}
		}
		m, _ := model.(map[string]any)
		for k, e := range x {
			x[k] = arrayify(e, m[k])
		}
		return x
	case []any:
		arr, _ := model.([]any)
		for i, e := range x {
			var m any
			if i < len(arr) {
				m = arr[i]
			}
			x[i] = arrayify(e, m)
		}
		return x
	}
	return v
}

func indexedItems(obj map[string]any) ([]any, bool) {
	items := make([]any, len(obj))
	for k, v := range obj {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || i >= len(obj) || strconv.Itoa(i) != k {
			return nil, false
		}
		items[i] = v
	}
	return items, true
}
