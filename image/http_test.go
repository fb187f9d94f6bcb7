package image

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// libArchive builds a lib.zip with a single stdlib marker file.
func libArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("python3.11/os.py")
	require.NoError(t, err)
	_, err = f.Write([]byte("# stdlib\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newInstallServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	archive := libArchive(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/python.wasm", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(wasmHeader)
	})
	mux.HandleFunc("/lib.zip", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProviderFetchBinaryCaches(t *testing.T) {
	var hits atomic.Int32
	srv := newInstallServer(t, &hits)

	p := NewHTTPProvider(srv.URL, WithCacheDir(t.TempDir()))

	data, err := p.FetchBinary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wasmHeader, data)

	// Second call must be served from the cache.
	data, err = p.FetchBinary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wasmHeader, data)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPProviderResolveExtractsRoot(t *testing.T) {
	var hits atomic.Int32
	srv := newInstallServer(t, &hits)

	cacheDir := t.TempDir()
	p := NewHTTPProvider(srv.URL, WithCacheDir(cacheDir))

	img, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL, img.Repository)
	assert.Equal(t, filepath.Join(cacheDir, RootName), img.Root)

	marker, err := os.ReadFile(filepath.Join(img.Root, "python3.11", "os.py"))
	require.NoError(t, err)
	assert.Equal(t, "# stdlib\n", string(marker))

	// Second resolve hits the extracted cache, not the server.
	_, err = p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPProviderNotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(srv.URL, WithCacheDir(t.TempDir()))
	_, err := p.FetchBinary(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load(), "4xx must not be retried")
}

func TestHTTPProviderRetriesTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(wasmHeader)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(srv.URL, WithCacheDir(t.TempDir()))
	data, err := p.FetchBinary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wasmHeader, data)
	assert.Equal(t, int32(3), hits.Load())
}

func TestExtractZipRejectsEscapingEntry(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("../escape.py")
	require.NoError(t, err)
	_, err = f.Write([]byte("bad"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = extractZip(buf.Bytes(), t.TempDir())
	require.Error(t, err)
}

func TestPreloadSwallowsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	p := NewHTTPProvider(srv.URL, WithCacheDir(t.TempDir()))
	pre := StartPreload(context.Background(), p, logr.Discard())

	<-pre.Done()
	assert.Error(t, pre.Err())
}

func TestPreloadWarmsCache(t *testing.T) {
	var hits atomic.Int32
	srv := newInstallServer(t, &hits)

	cacheDir := t.TempDir()
	p := NewHTTPProvider(srv.URL, WithCacheDir(cacheDir))
	pre := StartPreload(context.Background(), p, logr.Discard())

	<-pre.Done()
	require.NoError(t, pre.Err())

	// A later fetch is fully local.
	before := hits.Load()
	_, err := p.FetchBinary(context.Background())
	require.NoError(t, err)
	_, err = p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, hits.Load())
}
