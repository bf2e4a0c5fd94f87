// Package loader fetches the rows behind a dataset's url and decodes them
// according to the dataset's format block.
//
// A Router dispatches on the url scheme: plain paths and file:// urls are
// read below a configured base directory, http(s) urls are fetched with an
// *http.Client, and s3:// urls are read through a minio client. Schemes with
// no configured backend are reported by CanLoad so the caller can leave the
// dataset to the client.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/vk/vegaprecompute/internal/ctxlog"
)

// DefaultMaxBytes bounds a single fetched payload.
const DefaultMaxBytes int64 = 64 << 20

// ErrUnsupportedURL is returned by Load for urls no backend can serve.
var ErrUnsupportedURL = errors.New("url not supported by any configured backend")

// Loader fetches raw dataset payloads.
type Loader interface {
	// CanLoad reports whether Load would attempt the url. It does no I/O.
	CanLoad(rawURL string) bool
	Load(ctx context.Context, rawURL string) ([]byte, error)
}

// Option configures a Router.
type Option func(*Router)

// WithBaseDir enables file loading for relative paths and file:// urls
// resolved below dir.
func WithBaseDir(dir string) Option {
	return func(r *Router) { r.files = &fileBackend{root: dir} }
}

// WithHTTPClient replaces the client used for http and https urls.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Router) { r.web = &httpBackend{client: c} }
}

// WithoutHTTP disables network fetches.
func WithoutHTTP() Option {
	return func(r *Router) { r.web = nil }
}

// WithS3 enables s3://bucket/key urls through the given client.
func WithS3(c *minio.Client) Option {
	return func(r *Router) { r.objects = &s3Backend{client: c} }
}

// WithMaxBytes overrides DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(r *Router) { r.maxBytes = n }
}

type backend interface {
	fetch(ctx context.Context, u *url.URL, maxBytes int64) ([]byte, error)
}

// Router is the default Loader.
type Router struct {
	files    *fileBackend
	web      *httpBackend
	objects  *s3Backend
	maxBytes int64
}

// New returns a Router. HTTP loading is on by default with a 30 second
// timeout; file and s3 loading must be enabled explicitly.
func New(opts ...Option) *Router {
	r := &Router{
		web:      &httpBackend{client: NewHTTPClient(30 * time.Second)},
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewHTTPClient builds the pooled client used for http urls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (r *Router) backendFor(rawURL string) (backend, *url.URL) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil
	}
	switch strings.ToLower(u.Scheme) {
	case "", "file":
		if r.files != nil {
			return r.files, u
		}
	case "http", "https":
		if r.web != nil {
			return r.web, u
		}
	case "s3":
		if r.objects != nil {
			return r.objects, u
		}
	}
	return nil, nil
}

// CanLoad implements Loader.
func (r *Router) CanLoad(rawURL string) bool {
	b, _ := r.backendFor(rawURL)
	return b != nil
}

// Load implements Loader.
func (r *Router) Load(ctx context.Context, rawURL string) ([]byte, error) {
	b, u := r.backendFor(rawURL)
	if b == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading dataset url.", "url", rawURL)

	body, err := b.fetch(ctx, u, r.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to load %q: %w", rawURL, err)
	}
	logger.Debug("Loaded dataset url.", "url", rawURL, "bytes", len(body))
	return body, nil
}

// Close releases idle network connections.
func (r *Router) Close() {
	if r.web != nil {
		r.web.client.CloseIdleConnections()
	}
}
