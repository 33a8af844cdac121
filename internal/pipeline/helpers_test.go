package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/cache/memory"
	"github.com/any-hub/imgcache/internal/fingerprint"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/metrics"
	"github.com/any-hub/imgcache/internal/server"
)

type envConfig struct {
	backend        cache.Backend
	browserMaxDays int
	processor      Processor
	allowRemote    func(string) bool
}

type testEnv struct {
	app       *fiber.App
	handler   *Handler
	cache     *cache.Cache
	metrics   *metrics.Metrics
	root      string
	processed atomic.Int32
}

func newTestEnv(t *testing.T, cfg envConfig) *testEnv {
	t.Helper()

	env := &testEnv{root: t.TempDir(), metrics: metrics.New()}
	sourceFS := osfs.New(env.root)

	backend := cfg.backend
	if backend == nil {
		backend = memory.New()
	}
	prober := fingerprint.NewProber(fingerprint.ProberOptions{Filesystem: sourceFS, Timeout: time.Second})
	c, err := cache.New(cache.Static(backend), cache.Options{
		MaxDays:          30,
		BrowserMaxDays:   cfg.browserMaxDays,
		Prober:           prober,
		NamespaceByQuery: true,
	})
	require.NoError(t, err)
	env.cache = c

	inner := cfg.processor
	if inner == nil {
		inner = Passthrough{}
	}
	counting := ProcessorFunc(func(ctx context.Context, req cache.Request, src *Source, dst io.Writer) (string, error) {
		env.processed.Add(1)
		return inner.Process(ctx, req, src, dst)
	})

	handler, err := NewHandler(Options{
		Cache:       c,
		Fetcher:     NewFetcher(sourceFS, nil),
		Processor:   counting,
		Logger:      logging.Discard(),
		Metrics:     env.metrics,
		AllowRemote: cfg.allowRemote,
	})
	require.NoError(t, err)
	env.handler = handler

	app, err := server.NewApp(server.AppOptions{
		Logger:     logging.Discard(),
		Handler:    handler,
		ListenPort: 5000,
	})
	require.NoError(t, err)
	env.app = app
	return env
}

func (e *testEnv) writeSource(t *testing.T, name, content string, modTime time.Time) {
	t.Helper()
	full := filepath.Join(e.root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(full, modTime, modTime))
}

func (e *testEnv) do(t *testing.T, method, target string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, "http://img.local"+target, nil)
	require.NoError(t, err)
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(body)
}

func (e *testEnv) scrapeMetrics(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}

// brokenBackend 模拟所有操作都失败的存储。
type brokenBackend struct{}

var errBackendDown = errors.New("backend down")

func (brokenBackend) Stat(context.Context, string) (cache.Entry, error) {
	return cache.Entry{}, errBackendDown
}

func (brokenBackend) Open(context.Context, string) (*cache.ReadResult, error) {
	return nil, errBackendDown
}

func (brokenBackend) Put(context.Context, string, io.Reader, string) (*cache.Entry, error) {
	return nil, errBackendDown
}

func (brokenBackend) Remove(context.Context, string) error { return errBackendDown }

func (brokenBackend) List(context.Context) ([]cache.Entry, error) { return nil, errBackendDown }

func (brokenBackend) Location(key string) string { return "/broken/" + key }

// readOnlyBackend 查询正常但写入失败。
type readOnlyBackend struct {
	*memory.Store
}

func (readOnlyBackend) Put(context.Context, string, io.Reader, string) (*cache.Entry, error) {
	return nil, errBackendDown
}

// cdnBackend 返回绝对 URL，模拟对象存储的公开地址。
type cdnBackend struct {
	*memory.Store
}

func (cdnBackend) Location(key string) string {
	return "https://cdn.example.com/images/" + key
}

func hasMetric(text, line string) bool {
	return strings.Contains(text, line)
}
