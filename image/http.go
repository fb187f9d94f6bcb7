package image

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"
)

// HTTPProvider fetches the interpreter install from a remote content source
// and caches it under a local directory. After the first successful fetch
// the cached copy serves all subsequent calls, so a warmed cache makes
// session boot fully local.
type HTTPProvider struct {
	baseURL  string
	cacheDir string
	client   *http.Client
	log      logr.Logger
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient overrides the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		p.client = client
	}
}

// WithCacheDir overrides the local cache directory.
func WithCacheDir(dir string) HTTPOption {
	return func(p *HTTPProvider) {
		p.cacheDir = dir
	}
}

// WithHTTPLogger sets the logger used for fetch diagnostics.
func WithHTTPLogger(log logr.Logger) HTTPOption {
	return func(p *HTTPProvider) {
		p.log = log
	}
}

// NewHTTPProvider creates a provider fetching from baseURL, which must
// serve <baseURL>/python.wasm and a <baseURL>/lib.zip standard library
// archive extracted into the cache on first use.
func NewHTTPProvider(baseURL string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		baseURL:  baseURL,
		cacheDir: DefaultCacheDir(),
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HTTPProvider) Resolve(ctx context.Context) (Image, error) {
	root := filepath.Join(p.cacheDir, RootName)
	if info, err := os.Stat(root); err == nil && info.IsDir() {
		return Image{Repository: p.baseURL, Root: root}, nil
	}

	if err := p.fetchRoot(ctx, root); err != nil {
		return Image{}, fmt.Errorf("resolve interpreter root: %w", err)
	}
	return Image{Repository: p.baseURL, Root: root}, nil
}

func (p *HTTPProvider) FetchBinary(ctx context.Context) ([]byte, error) {
	cached := filepath.Join(p.cacheDir, BinaryName)
	if data, err := os.ReadFile(cached); err == nil {
		return data, nil
	}

	data, err := p.fetch(ctx, BinaryName)
	if err != nil {
		return nil, fmt.Errorf("fetch interpreter binary: %w", err)
	}

	if err := os.MkdirAll(p.cacheDir, 0o755); err == nil {
		if err := os.WriteFile(cached, data, 0o644); err != nil {
			p.log.V(1).Info("binary cache write failed", "error", err)
		}
	}
	return data, nil
}

// fetch downloads one asset with exponential backoff. Transient HTTP
// failures are retried; a 4xx status is permanent.
func (p *HTTPProvider) fetch(ctx context.Context, name string) ([]byte, error) {
	target, err := url.JoinPath(p.baseURL, name)
	if err != nil {
		return nil, err
	}

	var data []byte
	operation := func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}

		resp, doErr := p.client.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("%s: status %d", target, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: status %d", target, resp.StatusCode)
		}

		data, doErr = io.ReadAll(resp.Body)
		return doErr
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return data, nil
}

// fetchRoot downloads and extracts the standard library archive.
func (p *HTTPProvider) fetchRoot(ctx context.Context, root string) error {
	data, err := p.fetch(ctx, "lib.zip")
	if err != nil {
		return err
	}
	return extractZip(data, root)
}
