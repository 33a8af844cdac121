package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/metrics"
	"github.com/any-hub/imgcache/internal/version"
)

// DiagnosticsOptions 提供诊断接口所需的依赖，Metrics 为空时 /-/metrics 返回 503。
type DiagnosticsOptions struct {
	Cache   *cache.Cache
	Metrics *metrics.Metrics
}

// RegisterDiagnosticRoutes 暴露 /-/healthz、/-/backends 与 /-/metrics，供 SRE 排查。
func RegisterDiagnosticRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version.Full(),
		})
	})

	app.Get("/-/backends", func(c fiber.Ctx) error {
		return c.JSON(encodeBackends(cache.List(), opts.Cache))
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
}

type backendsPayload struct {
	Active         string           `json:"active"`
	MaxDays        int              `json:"max_days"`
	BrowserMaxDays int              `json:"browser_max_days"`
	Backends       []backendPayload `json:"backends"`
}

type backendPayload struct {
	Key         string   `json:"key"`
	Description string   `json:"description"`
	SettingKeys []string `json:"setting_keys"`
}

func encodeBackends(factories []cache.BackendFactory, active *cache.Cache) backendsPayload {
	payload := backendsPayload{
		Backends: make([]backendPayload, 0, len(factories)),
	}
	for _, factory := range factories {
		payload.Backends = append(payload.Backends, backendPayload{
			Key:         factory.Key,
			Description: factory.Description,
			SettingKeys: append([]string(nil), factory.SettingKeys...),
		})
	}
	if active != nil {
		payload.Active = active.BackendKey()
		payload.MaxDays = active.MaxDays()
		payload.BrowserMaxDays = active.BrowserMaxDays()
	}
	return payload
}
