package routes

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/cache/memory"
	"github.com/any-hub/imgcache/internal/metrics"
)

func newDiagnosticsApp(t *testing.T, m *metrics.Metrics) *fiber.App {
	t.Helper()
	c, err := cache.Open(memory.Key, cache.Options{MaxDays: 30, BrowserMaxDays: 2})
	require.NoError(t, err)

	app := fiber.New()
	RegisterDiagnosticRoutes(app, DiagnosticsOptions{Cache: c, Metrics: m})
	return app
}

func TestHealthz(t *testing.T) {
	app := newDiagnosticsApp(t, metrics.New())

	resp, err := app.Test(httptest.NewRequest("GET", "/-/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "ok", payload["status"])
}

func TestBackendsListsRegistryAndActive(t *testing.T) {
	app := newDiagnosticsApp(t, metrics.New())

	resp, err := app.Test(httptest.NewRequest("GET", "/-/backends", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload backendsPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, memory.Key, payload.Active)
	assert.Equal(t, 30, payload.MaxDays)
	assert.Equal(t, 2, payload.BrowserMaxDays)

	keys := make([]string, 0, len(payload.Backends))
	for _, backend := range payload.Backends {
		keys = append(keys, backend.Key)
	}
	assert.Contains(t, keys, memory.Key)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.RecordRequest(metrics.ResultHit)
	app := newDiagnosticsApp(t, m)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "imgcache_requests_total"), string(body))
}

func TestMetricsEndpointWithoutMetrics(t *testing.T) {
	app := newDiagnosticsApp(t, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
