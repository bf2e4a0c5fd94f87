package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vk/vegaprecompute/internal/ctxlog"
	"github.com/vk/vegaprecompute/pkg/vegaprecompute"
)

const shutdownTimeout = 5 * time.Second

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics() *httpMetrics {
	return &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vegaprecompute",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vegaprecompute",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *httpMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// PreTransformRequest is the body of POST /v1/pretransform. Spec may be the
// specification object itself or a string holding it.
type PreTransformRequest struct {
	Spec    json.RawMessage `json:"spec" binding:"required"`
	Options struct {
		LocalTimeZone         string `json:"localTimeZone"`
		DefaultInputTimeZone  string `json:"defaultInputTimeZone"`
		RowLimit              int    `json:"rowLimit"`
		PreserveInteractivity bool   `json:"preserveInteractivity"`
	} `json:"options"`
}

// PatchRequest is the body of POST /v1/patch.
type PatchRequest struct {
	OldSpec   json.RawMessage `json:"oldSpec" binding:"required"`
	OldResult json.RawMessage `json:"oldResult" binding:"required"`
	NewSpec   json.RawMessage `json:"newSpec" binding:"required"`
}

// Handler builds the HTTP router.
func (a *App) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), a.observe)

	router.GET("/health", a.healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	v1.POST("/pretransform", a.preTransformHandler)
	v1.POST("/patch", a.patchHandler)
	return router
}

// observe logs each request and records it in the http metrics.
func (a *App) observe(c *gin.Context) {
	start := time.Now()
	logger := a.logger.With("method", c.Request.Method, "path", c.Request.URL.Path)
	c.Request = c.Request.WithContext(ctxlog.WithLogger(c.Request.Context(), logger))

	c.Next()

	path := c.FullPath()
	if path == "" {
		path = "unmatched"
	}
	status := c.Writer.Status()
	a.metrics.requests.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
	a.metrics.duration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	logger.Debug("Request served.", "status", status, "duration", time.Since(start))
}

func (a *App) healthHandler(c *gin.Context) {
	if a.runtime.State() != vegaprecompute.StateActive {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": a.runtime.State().String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "runtime_id": a.runtime.ID()})
}

func (a *App) preTransformHandler(c *gin.Context) {
	var req PreTransformRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	spec, warnings, err := a.runtime.PreTransform(c.Request.Context(), documentText(req.Spec), vegaprecompute.PreTransformOptions{
		LocalTimeZone:         req.Options.LocalTimeZone,
		DefaultInputTimeZone:  req.Options.DefaultInputTimeZone,
		RowLimit:              req.Options.RowLimit,
		PreserveInteractivity: req.Options.PreserveInteractivity,
	})
	if err != nil {
		a.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"spec":     json.RawMessage(spec),
		"warnings": json.RawMessage(warnings),
	})
}

func (a *App) patchHandler(c *gin.Context) {
	var req PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	out, ok, err := a.runtime.Patch(c.Request.Context(), documentText(req.OldSpec), documentText(req.OldResult), documentText(req.NewSpec))
	if err != nil {
		a.writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{"patched": false, "spec": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"patched": true, "spec": json.RawMessage(out)})
}

// documentText accepts a document either inline or as a JSON string.
func documentText(raw json.RawMessage) string {
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

func (a *App) writeError(c *gin.Context, err error) {
	kind := vegaprecompute.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case vegaprecompute.KindMalformedDocument:
		status = http.StatusBadRequest
	case vegaprecompute.KindUnresolvedReference, vegaprecompute.KindCyclicDependency, vegaprecompute.KindTransformEvaluation:
		status = http.StatusUnprocessableEntity
	case vegaprecompute.KindState:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		ctxlog.FromContext(c.Request.Context()).Error("Request failed.", "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": kind.String()})
}

// Serve runs the HTTP server on the configured address until ctx is done,
// then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	a.httpServer = &http.Server{
		Addr:              a.config.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 Server starting", "address", a.config.ListenAddr)
		// ListenAndServe returns ErrServerClosed on graceful shutdown.
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return a.shutdown(logger)
}

func (a *App) shutdown(logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Shutting down server...")
	if err := a.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
