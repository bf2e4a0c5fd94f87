package evaluator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/vegaprecompute/internal/dag"
	"github.com/vk/vegaprecompute/internal/loader"
	"github.com/vk/vegaprecompute/internal/specmodel"
	"github.com/vk/vegaprecompute/internal/transform"
	"github.com/vk/vegaprecompute/internal/verr"
)

const (
	dataPrefix   = "data:"
	signalPrefix = "signal:"
)

func dataID(name string) string   { return dataPrefix + name }
func signalID(name string) string { return signalPrefix + name }

// plan is the classified dependency graph of one specification.
type plan struct {
	graph  *dag.Graph
	levels [][]string

	// clientSide holds the ids of nodes left for the client.
	clientSide map[string]bool
	// roots explains why each client-side root was excluded, in node order.
	roots []clientRoot
}

type clientRoot struct {
	id     string
	reason error
}

// buildPlan creates the dependency graph, rejects cycles and marks every
// node that cannot be evaluated on the server.
func buildPlan(spec *specmodel.Spec, ectx Context, ld loader.Loader) (*plan, error) {
	g := dag.New()
	for _, sig := range spec.Signals {
		g.AddNode(signalID(sig.Name))
	}
	for _, d := range spec.Datasets {
		g.AddNode(dataID(d.Name))
	}

	if err := linkDatasets(g, spec); err != nil {
		return nil, err
	}
	if err := linkSignals(g, spec); err != nil {
		return nil, err
	}

	levels, err := g.Levels()
	if err != nil {
		return nil, graphError(err)
	}

	p := &plan{graph: g, levels: levels, clientSide: make(map[string]bool)}
	p.classify(spec, ectx, ld)
	return p, nil
}

func linkDatasets(g *dag.Graph, spec *specmodel.Spec) error {
	for _, d := range spec.Datasets {
		id := dataID(d.Name)
		for _, src := range d.Sources {
			if err := g.AddEdge(dataID(src), id); err != nil {
				return graphError(err)
			}
		}
		for _, ref := range d.DatasetRefs() {
			if err := g.AddEdge(dataID(ref), id); err != nil {
				return graphError(err)
			}
		}

		declared := make(map[string]bool)
		for _, name := range d.DeclaredSignals() {
			declared[name] = true
			if err := g.AddEdge(id, signalID(name)); err != nil {
				return graphError(err)
			}
		}
		for _, name := range d.SignalRefs() {
			// A step may read a signal written by an earlier step of the
			// same pipeline.
			if declared[name] {
				continue
			}
			if err := g.AddEdge(signalID(name), id); err != nil {
				return graphError(err)
			}
		}
	}
	return nil
}

func linkSignals(g *dag.Graph, spec *specmodel.Spec) error {
	for _, sig := range spec.Signals {
		if sig.UpdateExpr == nil {
			continue
		}
		id := signalID(sig.Name)
		refs := sig.UpdateExpr.References()
		for _, name := range refs.Signals {
			if err := g.AddEdge(signalID(name), id); err != nil {
				return graphError(err)
			}
		}
		for _, name := range refs.Datasets {
			if err := g.AddEdge(dataID(name), id); err != nil {
				return graphError(err)
			}
		}
	}
	return nil
}

func graphError(err error) error {
	var cycle *dag.CycleError
	if errors.As(err, &cycle) {
		return verr.Cyclic("%s", strings.Join(displayPath(cycle.Path), " -> "))
	}
	return verr.Unresolved("%v", err)
}

func displayPath(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		switch {
		case strings.HasPrefix(id, dataPrefix):
			out[i] = fmt.Sprintf("dataset %q", strings.TrimPrefix(id, dataPrefix))
		default:
			out[i] = fmt.Sprintf("signal %q", strings.TrimPrefix(id, signalPrefix))
		}
	}
	return out
}

// classify marks client-side roots and propagates the mark to every node
// that depends on one of them.
func (p *plan) classify(spec *specmodel.Spec, ectx Context, ld loader.Loader) {
	for _, sig := range spec.Signals {
		var reason error
		switch {
		case sig.Unsupported != nil:
			reason = sig.Unsupported
		case ectx.PreserveInteractivity && sig.Interactive:
			reason = fmt.Errorf("signal %q is interactive", sig.Name)
		}
		if reason != nil {
			p.roots = append(p.roots, clientRoot{id: signalID(sig.Name), reason: reason})
		}
	}
	for _, d := range spec.Datasets {
		if reason := datasetReason(d, ld); reason != nil {
			p.roots = append(p.roots, clientRoot{id: dataID(d.Name), reason: reason})
		}
	}

	ids := make([]string, 0, len(p.roots))
	for _, r := range p.roots {
		p.clientSide[r.id] = true
		ids = append(ids, r.id)
	}
	for _, id := range p.graph.Descendants(ids...) {
		p.clientSide[id] = true
	}
}

func datasetReason(d *specmodel.Dataset, ld loader.Loader) error {
	if err := d.UnsupportedReason(); err != nil {
		return err
	}
	for _, t := range d.Transforms {
		if err := transform.Check(t); err != nil {
			return err
		}
	}
	if d.HasTriggers {
		return fmt.Errorf("dataset %q is modified by interaction triggers", d.Name)
	}
	if d.Kind == specmodel.SourceURL && !ld.CanLoad(d.URL) {
		return fmt.Errorf("url %q cannot be loaded on the server", d.URL)
	}
	if d.Kind == specmodel.SourceInline || d.Kind == specmodel.SourceURL {
		if _, err := loader.ParseFormat(d.Format); err != nil {
			return err
		}
	}
	return nil
}

// order returns the node ids in evaluation order.
func (p *plan) order() []string {
	var out []string
	for _, level := range p.levels {
		out = append(out, level...)
	}
	return out
}
