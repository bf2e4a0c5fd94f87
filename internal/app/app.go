package app

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vk/vegaprecompute/internal/loader"
	"github.com/vk/vegaprecompute/pkg/vegaprecompute"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	registry *prometheus.Registry
	loader   *loader.Router
	runtime  *vegaprecompute.Runtime
	metrics  *httpMetrics

	httpServer *http.Server
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own logger, metrics registry and
// runtime context.
func NewApp(outW io.Writer, cfg *Config) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ld, err := newLoader(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Dataset loader configured.", "data_dir", cfg.DataDir, "s3", cfg.S3Endpoint != "")

	rt, err := vegaprecompute.New(cfg.CacheCapacity, cfg.CacheMemoryLimit,
		vegaprecompute.WithLogger(logger),
		vegaprecompute.WithRegisterer(reg),
		vegaprecompute.WithLoader(ld),
		vegaprecompute.WithWorkers(cfg.Workers),
	)
	if err != nil {
		ld.Close()
		return nil, fmt.Errorf("failed to create runtime: %w", err)
	}

	metrics := newHTTPMetrics()
	if err := metrics.register(reg); err != nil {
		rt.Destroy()
		ld.Close()
		return nil, fmt.Errorf("failed to register http metrics: %w", err)
	}

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		registry: reg,
		loader:   ld,
		runtime:  rt,
		metrics:  metrics,
	}, nil
}

func newLoader(cfg *Config) (*loader.Router, error) {
	opts := []loader.Option{loader.WithHTTPClient(loader.NewHTTPClient(cfg.HTTPTimeout))}
	if cfg.DataDir != "" {
		opts = append(opts, loader.WithBaseDir(cfg.DataDir))
	}
	s3, err := loader.NewS3Client(loader.S3Config{
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		UseSSL:          cfg.S3UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if s3 != nil {
		opts = append(opts, loader.WithS3(s3))
	}
	return loader.New(opts...), nil
}

// Logger returns the application's logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Runtime returns the application's runtime context.
func (a *App) Runtime() *vegaprecompute.Runtime {
	return a.runtime
}

// Registry returns the application's metrics registry. This is primarily for testing.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Close destroys the runtime and releases idle loader connections.
func (a *App) Close() {
	a.runtime.Destroy()
	a.loader.Close()
	a.logger.Debug("Application closed.")
}
