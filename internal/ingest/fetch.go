package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Resource is a fetched document body.
type Resource struct {
	Body        []byte
	ContentType string
	Name        string
}

// HTTPFetcher downloads documents over http(s) and reads file:// locators
// from local disk.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (*Resource, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("parse locator failed: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u)
	case "file":
		return f.fetchFile(u.Path)
	default:
		return nil, fmt.Errorf("unsupported locator scheme %q", u.Scheme)
	}
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, u *url.URL) (*Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request failed: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch document failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch document status %d", resp.StatusCode)
	}

	body, err := f.readLimited(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Resource{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Name:        filepath.Base(u.Path),
	}, nil
}

func (f *HTTPFetcher) fetchFile(path string) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document failed: %w", err)
	}
	defer file.Close()

	body, err := f.readLimited(file)
	if err != nil {
		return nil, err
	}
	return &Resource{
		Body:        body,
		ContentType: contentTypeByExt(path),
		Name:        filepath.Base(path),
	}, nil
}

func (f *HTTPFetcher) readLimited(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read document failed: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", f.maxBytes)
	}
	return body, nil
}

func contentTypeByExt(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	default:
		return ""
	}
}
