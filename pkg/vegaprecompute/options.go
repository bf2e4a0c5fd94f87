package vegaprecompute

import (
	"log/slog"
	"time"
	_ "time/tzdata"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vk/vegaprecompute/internal/evaluator"
	"github.com/vk/vegaprecompute/internal/loader"
	"github.com/vk/vegaprecompute/internal/verr"
)

// Loader fetches the payload behind a dataset url.
type Loader = loader.Loader

// Option configures a Runtime.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	registerer prometheus.Registerer
	loader     Loader
	workers    int
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithRegisterer registers the cache metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) { c.registerer = reg }
}

// WithLoader sets the loader used for url datasets. By default only http(s)
// urls are fetched.
func WithLoader(l Loader) Option {
	return func(c *config) { c.loader = l }
}

// WithWorkers bounds the number of pipeline nodes evaluated concurrently.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// PreTransformOptions are the per-call evaluation settings.
type PreTransformOptions struct {
	// LocalTimeZone is an IANA zone name used for calendar math. Empty
	// means UTC.
	LocalTimeZone string
	// DefaultInputTimeZone is the zone of date strings without an explicit
	// offset. Empty means LocalTimeZone.
	DefaultInputTimeZone string
	// RowLimit caps the rows inlined per dataset. Zero means unbounded.
	RowLimit int
	// PreserveInteractivity leaves interactive signals and everything that
	// depends on them to the client.
	PreserveInteractivity bool
}

func (o PreTransformOptions) context() (evaluator.Context, error) {
	ectx := evaluator.Context{RowLimit: o.RowLimit, PreserveInteractivity: o.PreserveInteractivity}
	if o.RowLimit < 0 {
		return ectx, verr.Malformed("row limit must not be negative, got %d", o.RowLimit)
	}
	var err error
	if ectx.LocalTimeZone, err = location(o.LocalTimeZone); err != nil {
		return ectx, err
	}
	if ectx.DefaultInputTimeZone, err = location(o.DefaultInputTimeZone); err != nil {
		return ectx, err
	}
	return ectx.Normalize(), nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, verr.Wrap(verr.KindMalformedDocument, err, "time zone %q", name)
	}
	return loc, nil
}
