package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

type httpBackend struct {
	client *http.Client
}

func (b *httpBackend) fetch(ctx context.Context, u *url.URL, maxBytes int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("request failed with status: %s", resp.Status)
	}
	return readLimited(resp.Body, maxBytes)
}
