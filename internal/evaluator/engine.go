// Package evaluator runs the data pipelines of a parsed specification and
// assembles the inlined output document.
//
// Evaluation happens in three phases. The planner builds a dependency graph
// over datasets and signals and marks the nodes that must stay on the
// client. The executor walks the graph level by level, running the nodes of
// one level concurrently on a bounded worker pool and recording their
// outputs in an evalstore.Store. Finally the assembler rewrites the document,
// replacing evaluated pipelines with literal rows and collecting warnings.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/internal/evalstore"
	"github.com/vk/vegaprecompute/internal/loader"
	"github.com/vk/vegaprecompute/internal/specmodel"
)

// releaseTimeout bounds how long Close waits for running workers.
const releaseTimeout = 3 * time.Second

// Engine evaluates specifications. It is safe for concurrent use; each call
// to Evaluate gets its own result store while sharing the worker pool.
type Engine struct {
	logger     *slog.Logger
	loader     loader.Loader
	ownsLoader *loader.Router
	workers    int
	pool       *ants.Pool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLoader sets the loader used for url datasets.
func WithLoader(l loader.Loader) Option {
	return func(e *Engine) { e.loader = l }
}

// WithLogger sets the logger for events outside any single evaluation.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithWorkers bounds the number of nodes evaluated at once.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// New creates an Engine. Without WithLoader, url datasets are fetched over
// http(s) only.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{logger: ctxlog.Discard(), workers: runtime.GOMAXPROCS(0)}
	for _, opt := range opts {
		opt(e)
	}
	if e.workers < 1 {
		e.workers = 1
	}
	if e.loader == nil {
		e.ownsLoader = loader.New()
		e.loader = e.ownsLoader
	}

	pool, err := ants.NewPool(e.workers, ants.WithPanicHandler(func(v any) {
		// Nodes recover their own panics; this only fires for a panic in
		// the pool bookkeeping around them.
		e.logger.Error("Evaluation worker panicked.", "panic", v)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	e.pool = pool
	return e, nil
}

// Close releases the worker pool.
func (e *Engine) Close() error {
	if e.ownsLoader != nil {
		e.ownsLoader.Close()
	}
	return e.pool.ReleaseTimeout(releaseTimeout)
}

// Evaluate runs every server-evaluable pipeline of spec and returns the
// inlined document with its warnings. An evaluation is not cancellable once
// started: ctx supplies the logger and values only, and url loads are bounded
// by the loader's own timeout.
func (e *Engine) Evaluate(ctx context.Context, spec *specmodel.Spec, ectx Context) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	ectx = ectx.Normalize()
	logger := ctxlog.FromContext(ctx)

	p, err := buildPlan(spec, ectx, e.loader)
	if err != nil {
		return nil, err
	}
	logger.Debug("Evaluation planned.", "nodes", p.graph.Len(), "levels", len(p.levels), "client_side", len(p.clientSide))

	r := &run{
		engine: e,
		spec:   spec,
		plan:   p,
		ectx:   ectx,
		store:  evalstore.New(),
	}
	for i, level := range p.levels {
		logger.Debug("Evaluating level.", "level", i, "nodes", len(level))
		if err := r.level(ctx, level); err != nil {
			for _, id := range r.store.WithStatus(evalstore.StatusFailed) {
				logger.Debug("Node failed.", "node", id, "error", r.store.Error(id))
			}
			return nil, err
		}
	}
	logger.Debug("Evaluation finished.",
		"completed", len(r.store.WithStatus(evalstore.StatusCompleted)),
		"client_side", r.store.WithStatus(evalstore.StatusClientSide))
	return r.assemble(ctx)
}
