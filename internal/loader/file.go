package loader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type fileBackend struct {
	root string
}

func (b *fileBackend) fetch(_ context.Context, u *url.URL, maxBytes int64) ([]byte, error) {
	path, err := b.resolve(u.Path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", path, err)
	}
	defer f.Close()
	return readLimited(f, maxBytes)
}

// resolve maps a url path below the root, refusing paths that escape it.
func (b *fileBackend) resolve(p string) (string, error) {
	root, err := filepath.Abs(b.root)
	if err != nil {
		return "", err
	}
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(p, "/")))
	full := filepath.Join(root, clean)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' escapes the data directory", p)
	}
	return full, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxBytes)
	}
	return body, nil
}
