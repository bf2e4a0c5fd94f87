package evaluator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/internal/evalstore"
	"github.com/vk/vegaprecompute/internal/loader"
	"github.com/vk/vegaprecompute/internal/specmodel"
	"github.com/vk/vegaprecompute/internal/transform"
	"github.com/vk/vegaprecompute/internal/vegaexpr"
	"github.com/vk/vegaprecompute/internal/verr"
)

// run is the state of one Evaluate call.
type run struct {
	engine *Engine
	spec   *specmodel.Spec
	plan   *plan
	ectx   Context
	store  *evalstore.Store
}

// level evaluates the server nodes of one dependency level concurrently.
// When several nodes fail, the error of the first one in level order wins.
func (r *run) level(ctx context.Context, ids []string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(ids))

	for i, id := range ids {
		if r.plan.clientSide[id] {
			r.store.SetStatus(id, evalstore.StatusClientSide)
			continue
		}
		wg.Add(1)
		err := r.engine.pool.Submit(func() {
			defer wg.Done()
			errs[i] = r.safeNode(ctx, id)
		})
		if err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("failed to schedule %s: %w", id, err)
		}
	}
	wg.Wait()

	var first error
	for i, err := range errs {
		if err == nil {
			continue
		}
		r.store.SetError(ids[i], err)
		if first == nil {
			first = err
		}
	}
	return first
}

func (r *run) safeNode(ctx context.Context, id string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = verr.Transform("evaluating %s panicked: %v", id, rec)
		}
	}()

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker picked up node for execution.", "node", id)
	r.store.SetStatus(id, evalstore.StatusRunning)

	if name, ok := strings.CutPrefix(id, dataPrefix); ok {
		d, _ := r.spec.Dataset(name)
		err = r.dataset(ctx, d)
	} else {
		sig, _ := r.spec.Signal(strings.TrimPrefix(id, signalPrefix))
		err = r.signal(ctx, sig)
	}
	if err != nil {
		return err
	}
	r.store.SetStatus(id, evalstore.StatusCompleted)
	logger.Debug("Node finished.", "node", id)
	return nil
}

func (r *run) dataset(ctx context.Context, d *specmodel.Dataset) error {
	rows, err := r.input(ctx, d)
	if err != nil {
		return verr.Annotate(err, verr.KindTransformEvaluation, "dataset %q", d.Name)
	}

	env := transform.NewEnv(r.store.Signals(d.SignalRefs()), r.store.Dataset, r.ectx.LocalTimeZone, r.ectx.DefaultInputTimeZone)
	for _, t := range d.Transforms {
		rows, err = transform.Run(ctx, t, rows, env)
		if err != nil {
			return verr.Annotate(err, verr.KindTransformEvaluation, "dataset %q", d.Name)
		}
	}

	for name, v := range env.Declared() {
		r.store.SetSignal(name, v)
	}
	r.store.SetDataset(d.Name, rows)
	ctxlog.FromContext(ctx).Debug("Dataset evaluated.", "dataset", d.Name, "rows", len(rows))
	return nil
}

// input produces the rows a pipeline starts from.
func (r *run) input(ctx context.Context, d *specmodel.Dataset) ([]transform.Row, error) {
	switch d.Kind {
	case specmodel.SourceInline:
		f, err := loader.ParseFormat(d.Format)
		if err != nil {
			return nil, err
		}
		rows, err := loader.Rows(d.Values, f)
		if err != nil {
			return nil, verr.Wrap(verr.KindMalformedDocument, err, "values")
		}
		if err := loader.ApplyParse(rows, f, r.ectx.DefaultInputTimeZone); err != nil {
			return nil, err
		}
		return rows, nil

	case specmodel.SourceURL:
		f, err := loader.ParseFormat(d.Format)
		if err != nil {
			return nil, err
		}
		body, err := r.engine.loader.Load(ctx, d.URL)
		if err != nil {
			return nil, err
		}
		rows, err := loader.Decode(body, f)
		if err != nil {
			return nil, fmt.Errorf("decoding %q: %w", d.URL, err)
		}
		if err := loader.ApplyParse(rows, f, r.ectx.DefaultInputTimeZone); err != nil {
			return nil, err
		}
		return rows, nil

	case specmodel.SourceDerived:
		var rows []transform.Row
		for _, src := range d.Sources {
			parent, ok := r.store.Dataset(src)
			if !ok {
				return nil, verr.Unresolved("source dataset %q was not evaluated", src)
			}
			rows = append(rows, parent...)
		}
		return rows, nil
	}
	return []transform.Row{}, nil
}

func (r *run) signal(ctx context.Context, sig *specmodel.Signal) error {
	switch {
	case sig.DeclaredBy != "":
		// Written by the declaring dataset.
		return nil
	case sig.UpdateExpr == nil:
		r.store.SetSignal(sig.Name, sig.Value)
		return nil
	}

	refs := sig.UpdateExpr.References()
	scope, err := vegaexpr.NewScope(r.store.Signals(refs.Signals), r.store.Dataset, r.ectx.LocalTimeZone)
	if err != nil {
		return verr.Wrap(verr.KindTransformEvaluation, err, "signal %q", sig.Name)
	}
	v, err := sig.UpdateExpr.Eval(scope, nil)
	if err != nil {
		return verr.Wrap(verr.KindTransformEvaluation, err, "signal %q update %q", sig.Name, sig.Update)
	}
	r.store.SetSignal(sig.Name, v)
	ctxlog.FromContext(ctx).Debug("Signal evaluated.", "signal", sig.Name)
	return nil
}
