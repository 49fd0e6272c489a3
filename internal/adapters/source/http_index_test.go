package source_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keel/internal/adapters/source"
	"go.trai.ch/keel/internal/core/domain"
)

func indexJSON(t *testing.T, doc source.IndexDocument) []byte {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func TestHTTPIndex_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	body := indexJSON(t, source.IndexDocument{Name: "util", Versions: []source.IndexVersion{{Version: "1.0.0"}}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index/util.json", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	deps := newTestDeps(t)
	index, err := source.NewHTTPIndex(srv.URL, t.TempDir(), srv.Client(), deps.logger,
		source.WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	doc, err := index.Document(context.Background(), "util")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Len(t, doc.Versions, 1)
	assert.Equal(t, int32(3), calls.Load())

	// Fresh cache entries are served without another request.
	_, err = index.Document(context.Background(), "util")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPIndex_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	deps := newTestDeps(t)
	index, err := source.NewHTTPIndex(srv.URL, t.TempDir(), srv.Client(), deps.logger,
		source.WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	doc, err := index.Document(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestHTTPIndex_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	deps := newTestDeps(t)
	index, err := source.NewHTTPIndex(srv.URL, t.TempDir(), srv.Client(), deps.logger,
		source.WithRetry(3, time.Millisecond))
	require.NoError(t, err)

	_, err = index.Document(context.Background(), "util")
	require.Error(t, err)
	assert.Contains(t, err.Error(), domain.ErrFetchFailed.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPIndex_FallsBackToStaleCache(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	body := indexJSON(t, source.IndexDocument{Name: "util", Versions: []source.IndexVersion{{Version: "1.0.0"}}})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	deps := newTestDeps(t)
	cacheDir := t.TempDir()
	index, err := source.NewHTTPIndex(srv.URL, cacheDir, srv.Client(), deps.logger,
		source.WithRetry(2, time.Millisecond))
	require.NoError(t, err)

	_, err = index.Document(context.Background(), "util")
	require.NoError(t, err)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	old := time.Now().Add(-24 * time.Hour)
	for _, e := range entries {
		require.NoError(t, os.Chtimes(filepath.Join(cacheDir, e.Name()), old, old))
	}

	healthy.Store(false)
	doc, err := index.Document(context.Background(), "util")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "util", doc.Name)
}

func TestHTTPIndex_DownloadResolvesRelativeLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/registry/archives/util-1.0.0.tar.gz" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("archive"))
	}))
	defer srv.Close()

	deps := newTestDeps(t)
	index, err := source.NewHTTPIndex(srv.URL+"/registry", t.TempDir(), srv.Client(), deps.logger)
	require.NoError(t, err)

	rc, err := index.Download(context.Background(), source.IndexVersion{Download: "archives/util-1.0.0.tar.gz"})
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "archive", string(data))
}
