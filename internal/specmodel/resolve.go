package specmodel

import (
	"github.com/vk/vegaprecompute/internal/verr"
)

// resolve checks that every dataset and signal reference names something
// declared in the document.
func (s *Spec) resolve() error {
	for _, d := range s.Datasets {
		for _, src := range d.Sources {
			if _, ok := s.datasetByName[src]; !ok {
				return verr.Unresolved("dataset %q has unknown source %q", d.Name, src)
			}
		}
		for _, name := range d.DatasetRefs() {
			if _, ok := s.datasetByName[name]; !ok {
				return verr.Unresolved("dataset %q references unknown dataset %q", d.Name, name)
			}
		}
		for _, name := range d.SignalRefs() {
			if _, ok := s.signalByName[name]; !ok {
				return verr.Unresolved("dataset %q references unknown signal %q", d.Name, name)
			}
		}
	}

	for _, sig := range s.Signals {
		if sig.UpdateExpr == nil {
			continue
		}
		refs := sig.UpdateExpr.References()
		for _, name := range refs.Signals {
			if _, ok := s.signalByName[name]; !ok {
				return verr.Unresolved("signal %q references unknown signal %q", sig.Name, name)
			}
		}
		for _, name := range refs.Datasets {
			if _, ok := s.datasetByName[name]; !ok {
				return verr.Unresolved("signal %q references unknown dataset %q", sig.Name, name)
			}
		}
	}

	return s.resolveConsumers()
}

// resolveConsumers checks the dataset references of top-level scales and
// marks. Nested group marks may read facet datasets and are not checked.
func (s *Spec) resolveConsumers() error {
	check := func(owner, name string) error {
		if _, ok := s.datasetByName[name]; !ok {
			return verr.Unresolved("%s references unknown dataset %q", owner, name)
		}
		return nil
	}

	scales, _ := s.Raw["scales"].([]any)
	for _, item := range scales {
		scale, _ := item.(map[string]any)
		domain, ok := scale["domain"].(map[string]any)
		if !ok {
			continue
		}
		owner := "scale " + quoteName(scale["name"])
		if name, ok := domain["data"].(string); ok {
			if err := check(owner, name); err != nil {
				return err
			}
		}
		fields, _ := domain["fields"].([]any)
		for _, f := range fields {
			if ref, ok := f.(map[string]any); ok {
				if name, ok := ref["data"].(string); ok {
					if err := check(owner, name); err != nil {
						return err
					}
				}
			}
		}
	}

	marks, _ := s.Raw["marks"].([]any)
	for _, item := range marks {
		mark, _ := item.(map[string]any)
		from, ok := mark["from"].(map[string]any)
		if !ok {
			continue
		}
		owner := "mark " + quoteName(mark["name"])
		if name, ok := from["data"].(string); ok {
			if err := check(owner, name); err != nil {
				return err
			}
		}
		if facet, ok := from["facet"].(map[string]any); ok {
			if name, ok := facet["data"].(string); ok {
				if err := check(owner, name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func quoteName(v any) string {
	if name, ok := v.(string); ok && name != "" {
		return `"` + name + `"`
	}
	return "(unnamed)"
}
