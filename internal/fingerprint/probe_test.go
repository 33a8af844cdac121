package fingerprint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeLocalFile(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "images", "photo.jpg")
	require.NoError(t, os.MkdirAll(filepath.Dir(imagePath), 0o755))
	require.NoError(t, os.WriteFile(imagePath, make([]byte, 1024), 0o644))

	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(imagePath, stamp, stamp))

	prober := NewProber(ProberOptions{Filesystem: osfs.New(dir)})
	signal := prober.Probe(context.Background(), "/images/photo.jpg")
	assert.Equal(t, "2024-01-01T00:00:00Z1024", signal)

	sum := Generate(signal, "/images/photo.jpg", "width=100")
	assert.Equal(t, Generate("2024-01-01T00:00:00Z1024", "/images/photo.jpg", ""), sum)
}

func TestProbeLocalFileChangesWithLength(t *testing.T) {
	dir := t.TempDir()
	imagePath := filepath.Join(dir, "photo.jpg")
	stamp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, os.WriteFile(imagePath, make([]byte, 10), 0o644))
	require.NoError(t, os.Chtimes(imagePath, stamp, stamp))
	prober := NewProber(ProberOptions{Filesystem: osfs.New(dir)})
	before := prober.Probe(context.Background(), "photo.jpg")

	require.NoError(t, os.WriteFile(imagePath, make([]byte, 20), 0o644))
	require.NoError(t, os.Chtimes(imagePath, stamp, stamp))
	after := prober.Probe(context.Background(), "photo.jpg")

	assert.NotEqual(t, before, after)
	assert.NotEqual(t, Generate(before, "/photo.jpg", ""), Generate(after, "/photo.jpg", ""))
}

func TestProbeMissingLocalFile(t *testing.T) {
	var failures int
	prober := NewProber(ProberOptions{
		Filesystem: osfs.New(t.TempDir()),
		OnFailure:  func(ProbeKind, string, error) { failures++ },
	})

	signal, err := prober.Signal(context.Background(), "missing.jpg")
	require.NoError(t, err)
	assert.Empty(t, signal)
	assert.Empty(t, prober.Probe(context.Background(), "missing.jpg"))
	assert.Zero(t, failures, "a missing file is not a probe failure")
}

func TestProbeRemoteUsesHeadMetadata(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		w.Header().Set("Last-Modified", "Mon, 01 Jan 2024 00:00:00 GMT")
		w.Header().Set("Content-Length", "2048")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	prober := NewProber(ProberOptions{Client: server.Client()})
	signal := prober.Probe(context.Background(), server.URL+"/photo.jpg")

	assert.Equal(t, "2024-01-01T00:00:00Z2048", signal)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{http.MethodHead}, methods)
}

func TestProbeRemoteDegradesOnErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	var gotKind ProbeKind
	var gotErr error
	prober := NewProber(ProberOptions{
		Client: server.Client(),
		OnFailure: func(kind ProbeKind, _ string, err error) {
			gotKind = kind
			gotErr = err
		},
	})

	assert.Empty(t, prober.Probe(context.Background(), server.URL+"/missing.jpg"))
	assert.Equal(t, ProbeKindRemote, gotKind)
	assert.ErrorIs(t, gotErr, ErrUnexpectedStatus)
}

func TestProbeRemoteDegradesOnTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	prober := NewProber(ProberOptions{Client: server.Client(), Timeout: 50 * time.Millisecond})

	started := time.Now()
	signal := prober.Probe(context.Background(), server.URL+"/slow.jpg")
	assert.Empty(t, signal)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestProbeRemoteDegradesOnNetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	prober := NewProber(ProberOptions{Timeout: time.Second})
	assert.Empty(t, prober.Probe(context.Background(), url+"/gone.jpg"))
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a.jpg"))
	assert.True(t, IsRemote("HTTP://example.com/a.jpg"))
	assert.False(t, IsRemote("/var/www/a.jpg"))
	assert.False(t, IsRemote("images/http.jpg"))
}
