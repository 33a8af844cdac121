package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ImageHandler serves image requests. It allows injecting fake handlers during tests.
type ImageHandler interface {
	Handle(fiber.Ctx) error
}

// ImageHandlerFunc adapts a function to the ImageHandler interface.
type ImageHandlerFunc func(fiber.Ctx) error

// Handle makes ImageHandlerFunc satisfy ImageHandler.
func (f ImageHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    ImageHandler
	ListenPort int
}

const contextKeyRequestID = "_imgcache_request_id"

// DiagnosticsPrefix 是保留给诊断接口的路径前缀，图片路径不能以它开头。
const DiagnosticsPrefix = "/-/"

// RemotePath 是远程源图片的入口，不属于诊断接口。
const RemotePath = "/-/remote"

// NewApp builds a Fiber application with request-id middleware and
// structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("image handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		path := string(c.Request().URI().Path())
		if isDiagnosticsPath(path) && path != RemotePath {
			return c.Next()
		}
		method := c.Method()
		if method != fiber.MethodGet && method != fiber.MethodHead {
			return renderMethodNotAllowed(c, opts.Logger, method, path)
		}
		return opts.Handler.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func renderMethodNotAllowed(c fiber.Ctx, logger *logrus.Logger, method, path string) error {
	logger.WithFields(logrus.Fields{
		"action":     "route",
		"method":     method,
		"path":       path,
		"request_id": RequestID(c),
	}).Warn("method not allowed")

	c.Set(fiber.HeaderAllow, "GET, HEAD")
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{
		"error": "method_not_allowed",
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, DiagnosticsPrefix)
}
