package manifest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oxlabs/llamactl/core/model"
)

func testConfig(gateway string) *Config {
	return &Config{
		Gateway:        gateway,
		RequestTimeout: 2 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func validManifest() *model.Manifest {
	return &model.Manifest{
		Model:    "llama.gguf",
		NumFiles: 2,
		Parts: []model.PartRef{
			{FileName: "llama.zip.part-aa", ContentID: "cid-aa"},
			{FileName: "llama.zip.part-ab", ContentID: "cid-ab"},
		},
	}
}

func TestResolveValidManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/abc123", r.URL.Path)
		json.NewEncoder(w).Encode(validManifest())
	}))
	defer srv.Close()

	r := NewResolver(testConfig(srv.URL), nil)
	m, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, "llama.gguf", m.Model)
	require.Len(t, m.Parts, 2)
}

func TestResolveEmptyHash(t *testing.T) {
	r := NewResolver(testConfig("http://unused"), nil)
	_, err := r.Resolve(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyHash)
}

func TestResolvePartCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m := validManifest()
		m.NumFiles = 3
		json.NewEncoder(w).Encode(m)
	}))
	defer srv.Close()

	r := NewResolver(testConfig(srv.URL), nil)
	_, err := r.Resolve(context.Background(), "abc123")
	require.ErrorIs(t, err, ErrMalformedManifest)
}

func TestResolveDuplicatePartName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m := validManifest()
		m.Parts[1].FileName = m.Parts[0].FileName
		json.NewEncoder(w).Encode(m)
	}))
	defer srv.Close()

	r := NewResolver(testConfig(srv.URL), nil)
	_, err := r.Resolve(context.Background(), "abc123")
	require.ErrorIs(t, err, ErrMalformedManifest)
}

func TestResolveNotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(testConfig(srv.URL), nil)
	_, err := r.Resolve(context.Background(), "missing")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.Equal(t, int64(1), hits.Load())
}

func TestResolveRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(validManifest())
	}))
	defer srv.Close()

	r := NewResolver(testConfig(srv.URL), nil)
	m, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, "llama.gguf", m.Model)
	require.Equal(t, int64(3), hits.Load())
}

func TestResolveUsesCache(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		json.NewEncoder(w).Encode(validManifest())
	}))

	cache, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	r := NewResolver(testConfig(srv.URL), cache)

	_, err = r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())

	// Gateway gone: the cached manifest still resolves.
	srv.Close()

	m, err := r.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, "llama.gguf", m.Model)
	require.Equal(t, int64(1), hits.Load())
}
