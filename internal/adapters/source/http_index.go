package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.trai.ch/keel/internal/core/domain"
	"go.trai.ch/keel/internal/core/ports"
	"go.trai.ch/zerr"
)

const (
	defaultIndexTTL      = 10 * time.Minute
	defaultRetryAttempts = 3
	defaultRetryDelay    = 500 * time.Millisecond
	maxIndexDocumentSize = 16 << 20
)

// HTTPIndex is a registry served over HTTP: GET <base>/index/<name>.json.
// Index documents are cached on disk; a stale entry is used when the registry is unreachable.
type HTTPIndex struct {
	base   *url.URL
	client *http.Client
	cache  *fileCache
	logger ports.Logger

	attempts int
	delay    time.Duration
}

// HTTPIndexOption configures an HTTPIndex.
type HTTPIndexOption func(*HTTPIndex)

// WithRetry sets the number of attempts and the initial backoff for transient failures.
func WithRetry(attempts int, delay time.Duration) HTTPIndexOption {
	return func(h *HTTPIndex) {
		h.attempts = attempts
		h.delay = delay
	}
}

// NewHTTPIndex creates an index for the registry at baseURL caching documents in cacheDir.
func NewHTTPIndex(
	baseURL string,
	cacheDir string,
	client *http.Client,
	logger ports.Logger,
	opts ...HTTPIndexOption,
) (*HTTPIndex, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrInvalidSourceID.Error()), "registry", baseURL)
	}
	cache, err := newFileCache(cacheDir, defaultIndexTTL)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create registry cache")
	}
	if client == nil {
		client = http.DefaultClient
	}

	h := &HTTPIndex{
		base:     base,
		client:   client,
		cache:    cache,
		logger:   logger,
		attempts: defaultRetryAttempts,
		delay:    defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Document returns the index document of name, from the cache when it is fresh.
// An unknown package yields nil.
func (h *HTTPIndex) Document(ctx context.Context, name domain.PackageName) (*IndexDocument, error) {
	docURL := h.base.JoinPath("index", name.String()+".json").String()

	cached, fresh, cacheErr := h.cache.get(docURL)
	if fresh {
		return decodeIndexDocument(name, cached)
	}

	var data []byte
	err := retry(ctx, h.attempts, h.delay, func() error {
		var getErr error
		data, getErr = h.get(ctx, docURL, maxIndexDocumentSize)
		return getErr
	})
	if err != nil {
		if errors.Is(err, domain.ErrPackageNotFound) {
			return nil, nil
		}
		if errors.Is(cacheErr, errCacheExpired) {
			h.logger.Warn(fmt.Sprintf("registry unreachable, using cached index for %s", name))
			return decodeIndexDocument(name, cached)
		}
		return nil, zerr.With(err, "package", name.String())
	}

	doc, err := decodeIndexDocument(name, data)
	if err != nil {
		return nil, err
	}
	if err := h.cache.set(docURL, data); err != nil {
		h.logger.Warn(fmt.Sprintf("failed to cache index document for %s: %v", name, err))
	}
	return doc, nil
}

// Download fetches the archive of v. Relative locations are resolved against the registry URL.
func (h *HTTPIndex) Download(ctx context.Context, v IndexVersion) (io.ReadCloser, error) {
	ref, err := url.Parse(v.Download)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, domain.ErrFetchFailed.Error()), "archive", v.Download)
	}
	archiveURL := h.base.ResolveReference(ref).String()

	var body io.ReadCloser
	err = retry(ctx, h.attempts, h.delay, func() error {
		resp, openErr := h.open(ctx, archiveURL)
		if openErr != nil {
			return openErr
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, zerr.With(err, "archive", archiveURL)
	}
	return body, nil
}

func (h *HTTPIndex) get(ctx context.Context, target string, limit int64) ([]byte, error) {
	resp, err := h.open(ctx, target)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &retryableError{err: zerr.Wrap(err, domain.ErrFetchFailed.Error())}
	}
	return data, nil
}

// open issues a GET and classifies failures: 404 is not found, 5xx and 429 and
// transport errors are retryable, anything else fails immediately.
func (h *HTTPIndex) open(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, zerr.Wrap(err, domain.ErrFetchFailed.Error())
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, zerr.Wrap(ctx.Err(), domain.ErrFetchFailed.Error())
		}
		return nil, &retryableError{err: zerr.Wrap(err, domain.ErrFetchFailed.Error())}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, domain.ErrPackageNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		_ = resp.Body.Close()
		return nil, &retryableError{err: zerr.With(zerr.With(domain.ErrFetchFailed, "url", target), "status", resp.Status)}
	default:
		_ = resp.Body.Close()
		return nil, zerr.With(zerr.With(domain.ErrFetchFailed, "url", target), "status", resp.Status)
	}
}
