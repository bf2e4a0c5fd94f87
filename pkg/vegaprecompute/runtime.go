// Package vegaprecompute evaluates the data pipelines of Vega
// specifications ahead of rendering and inlines their results.
//
// A Runtime owns a result cache for its lifetime. PreTransform returns the
// inlined specification together with a JSON array of warnings; Patch
// cheaply updates a previous result when a specification changed only in
// presentation properties. After Destroy every method fails with an error
// matching ErrDestroyed.
package vegaprecompute

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vk/vegaprecompute/internal/cache"
	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/internal/evaluator"
	"github.com/vk/vegaprecompute/internal/patch"
	"github.com/vk/vegaprecompute/internal/specmodel"
)

// State is the lifecycle state of a Runtime.
type State int

const (
	StateActive State = iota
	StateDestroyed
)

func (s State) String() string {
	if s == StateDestroyed {
		return "destroyed"
	}
	return "active"
}

// Runtime is a runtime context. It is safe for concurrent use: operations
// share a read lock for their whole duration and Destroy waits for them.
type Runtime struct {
	id     uuid.UUID
	logger *slog.Logger

	mu     sync.RWMutex
	state  State
	cache  *cache.Cache[*evaluator.Result]
	engine *evaluator.Engine

	group singleflight.Group
}

// New creates an active runtime whose cache holds at most capacity results
// and memoryLimit bytes. Either bound set to zero disables caching.
func New(capacity int, memoryLimit int64, opts ...Option) (*Runtime, error) {
	cfg := config{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	metrics := cache.NewMetrics()
	if cfg.registerer != nil {
		if err := metrics.Register(cfg.registerer); err != nil {
			return nil, fmt.Errorf("failed to register cache metrics: %w", err)
		}
	}

	engineOpts := []evaluator.Option{evaluator.WithLogger(cfg.logger)}
	if cfg.loader != nil {
		engineOpts = append(engineOpts, evaluator.WithLoader(cfg.loader))
	}
	if cfg.workers > 0 {
		engineOpts = append(engineOpts, evaluator.WithWorkers(cfg.workers))
	}
	engine, err := evaluator.New(engineOpts...)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		id:     uuid.New(),
		state:  StateActive,
		cache:  cache.New[*evaluator.Result](capacity, memoryLimit, cache.WithMetrics(metrics)),
		engine: engine,
	}
	r.logger = cfg.logger.With("runtime_id", r.id.String())
	r.logger.Debug("Runtime created.", "cache_capacity", capacity, "cache_memory_limit", memoryLimit)
	return r, nil
}

// ID identifies the runtime in logs.
func (r *Runtime) ID() string { return r.id.String() }

// State reports whether the runtime is still usable.
func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// PreTransform evaluates specText and returns the inlined specification and
// the warnings as a JSON array. Identical requests are answered from the
// cache; concurrent identical requests share one evaluation.
func (r *Runtime) PreTransform(ctx context.Context, specText string, opts PreTransformOptions) (string, string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateActive {
		return "", "", ErrDestroyed
	}

	ectx, err := opts.context()
	if err != nil {
		return "", "", err
	}
	normalized, err := specmodel.Normalize([]byte(specText))
	if err != nil {
		return "", "", err
	}
	key := cache.Fingerprint(normalized, ectx.Key())
	fingerprint := strconv.FormatUint(key, 16)
	logger := r.logger.With("fingerprint", fingerprint)
	// The evaluation is shared by every concurrent caller with the same
	// fingerprint, so no single caller's cancellation may end it.
	ctx = ctxlog.WithLogger(context.WithoutCancel(ctx), logger)

	v, err, shared := r.group.Do(fingerprint, func() (any, error) {
		if res, ok := r.cache.Get(key); ok {
			logger.Debug("Cache hit.")
			return res, nil
		}
		spec, err := specmodel.Parse(normalized)
		if err != nil {
			return nil, err
		}
		res, err := r.engine.Evaluate(ctx, spec, ectx)
		if err != nil {
			return nil, err
		}
		if r.cache.Add(key, res) {
			logger.Debug("Result cached.", "bytes", res.Size())
		}
		return res, nil
	})
	if err != nil {
		logger.Debug("Pre-transform failed.", "error", err)
		return "", "", err
	}
	if shared {
		logger.Debug("Pre-transform shared with a concurrent call.")
	}
	res := v.(*evaluator.Result)
	return string(res.Spec), string(res.WarningsJSON), nil
}

// Patch updates oldResult, the inlined form of oldSpec, to reflect newSpec.
// The boolean is false when the change cannot be patched; callers then run
// PreTransform on newSpec. An error is returned only for malformed input or
// a destroyed runtime.
func (r *Runtime) Patch(ctx context.Context, oldSpec, oldResult, newSpec string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateActive {
		return "", false, ErrDestroyed
	}

	out, err := patch.Patch(ctxlog.WithLogger(ctx, r.logger), []byte(oldSpec), []byte(oldResult), []byte(newSpec))
	if err != nil {
		return "", false, err
	}
	if out == nil {
		return "", false, nil
	}
	return string(out), true, nil
}

// Destroy releases the cache and the worker pool. It waits for in-flight
// operations and is safe to call more than once.
func (r *Runtime) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateDestroyed {
		return
	}
	r.state = StateDestroyed
	r.cache.Purge()
	if err := r.engine.Close(); err != nil {
		r.logger.Warn("Worker pool did not stop in time.", "error", err)
	}
	r.logger.Debug("Runtime destroyed.")
}
