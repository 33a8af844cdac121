package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/logging"
	"github.com/any-hub/imgcache/internal/metrics"
	"github.com/any-hub/imgcache/internal/server"
)

const (
	headerCacheResult   = "X-Image-Cache"
	headerCacheKey      = "X-Image-Cache-Key"
	headerCacheLocation = "X-Image-Cache-Location"
)

// Options 描述 Handler 的依赖。
type Options struct {
	Cache     *cache.Cache
	Fetcher   *Fetcher
	Processor Processor
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
	// AllowRemote 判断远程源主机是否在白名单内，为空时拒绝所有远程请求。
	AllowRemote func(host string) bool
}

// Handler 负责 orchestrate “新鲜度检查 → 重新生成 → 写缓存 → 返回产物” 的全流程，
// 对外暴露 Fiber handler，同一个缓存 key 同时只会重新生成一次。
type Handler struct {
	cache       *cache.Cache
	fetcher     *Fetcher
	processor   Processor
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	allowRemote func(string) bool
	group       singleflight.Group
}

// artifact 是一次重新生成的结果，在 singleflight 的所有等待者之间共享，只读。
type artifact struct {
	data        []byte
	contentType string
	stored      bool
	// attempted 表示生成方已尝试写缓存（无论成败）。
	attempted bool
}

// NewHandler constructs an image handler with shared cache/fetcher/logger.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("source fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	processor := opts.Processor
	if processor == nil {
		processor = Passthrough{}
	}
	return &Handler{
		cache:       opts.Cache,
		fetcher:     opts.Fetcher,
		processor:   processor,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		allowRemote: opts.AllowRemote,
	}, nil
}

// Handle 执行缓存查找、按需重新生成与最终 streaming，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, status, code := h.resolveRequest(c)
	if code != "" {
		h.metrics.RecordRequest(metrics.ResultError)
		h.logResult(requestID, req, "", metrics.ResultError, status, started, errors.New(code))
		return h.writeError(c, status, code)
	}

	rc := h.cache.For(req)
	key := rc.Key(ctx)
	c.Set(headerCacheKey, key)

	storeAllowed := true
	stale, err := rc.IsNewOrUpdated(ctx)
	if err != nil {
		h.recordBackendFailure(err, requestID, key)
		storeAllowed = false
		stale = true
	}

	if !stale {
		served, serveErr := h.serveCached(c, rc, metrics.ResultHit, requestID)
		if served {
			h.metrics.RecordRequest(metrics.ResultHit)
			h.logResult(requestID, req, key, metrics.ResultHit, c.Response().StatusCode(), started, serveErr)
			return serveErr
		}
		if serveErr != nil {
			storeAllowed = false
		}
	}

	art, err := h.regenerate(ctx, rc, storeAllowed, requestID)
	if err != nil {
		status, code := classifySourceError(err)
		h.metrics.RecordRequest(metrics.ResultError)
		h.logResult(requestID, req, key, metrics.ResultError, status, started, err)
		return h.writeError(c, status, code)
	}

	if !art.stored {
		h.metrics.RecordRequest(metrics.ResultBypass)
		err := h.serveBytes(c, art, metrics.ResultBypass)
		h.logResult(requestID, req, key, metrics.ResultBypass, fiber.StatusOK, started, err)
		return err
	}

	served, serveErr := h.serveCached(c, rc, metrics.ResultMiss, requestID)
	if !served {
		serveErr = h.serveBytes(c, art, metrics.ResultMiss)
	}
	h.metrics.RecordRequest(metrics.ResultMiss)
	h.logResult(requestID, req, key, metrics.ResultMiss, c.Response().StatusCode(), started, serveErr)
	return serveErr
}

// regenerate 读取源图片并运行 Processor；storeAllowed 为 true 时写入缓存。
// 同一个 key 的并发调用共享同一次执行结果。
func (h *Handler) regenerate(ctx context.Context, rc *cache.RequestCache, storeAllowed bool, requestID string) (*artifact, error) {
	key := rc.Key(ctx)
	value, err, _ := h.group.Do(key, func() (interface{}, error) {
		// 等待者共享结果，首个请求断开不应中断生成。
		genCtx := context.WithoutCancel(ctx)
		started := time.Now()

		req := rc.Request()
		src, err := h.fetcher.Fetch(genCtx, req.RequestPath)
		if err != nil {
			return nil, err
		}
		defer src.Body.Close()

		var buf bytes.Buffer
		contentType, err := h.processor.Process(genCtx, req, src, &buf)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", req.RequestPath, err)
		}
		if contentType == "" {
			contentType = contentTypeFor(key)
		}
		h.metrics.ObserveRegenerate(time.Since(started))

		art := &artifact{data: buf.Bytes(), contentType: contentType}
		if !storeAllowed {
			return art, nil
		}
		art.attempted = true
		if err := rc.AddToCache(genCtx, bytes.NewReader(art.data), contentType); err != nil {
			h.recordBackendFailure(err, requestID, key)
			return art, nil
		}
		art.stored = true
		return art, nil
	})
	if err != nil {
		return nil, err
	}
	art := value.(*artifact)
	if !storeAllowed || art.attempted {
		return art, nil
	}
	// 共享了一个不写缓存的生成结果，由允许写入的调用方补写；同一 key 的补写同样合并。
	_, storeErr, _ := h.group.Do("store:"+key, func() (interface{}, error) {
		return nil, rc.AddToCache(context.WithoutCancel(ctx), bytes.NewReader(art.data), art.contentType)
	})
	if storeErr != nil {
		h.recordBackendFailure(storeErr, requestID, key)
		return art, nil
	}
	return &artifact{data: art.data, contentType: art.contentType, stored: true, attempted: true}, nil
}

// serveCached 通过 RewritePath 获取产物位置：绝对 URL 直接重定向，其余从后端流式读取。
// 返回 false 表示尚未写出任何响应，调用方可以改用其它方式返回。
func (h *Handler) serveCached(c fiber.Ctx, rc *cache.RequestCache, result, requestID string) (bool, error) {
	target := &fiberRequestContext{c: c}
	rc.RewritePath(target)

	if isRedirectLocation(target.location) {
		h.setCommonHeaders(c, result)
		c.Set(fiber.HeaderLocation, target.location)
		return true, c.SendStatus(fiber.StatusFound)
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cached, err := rc.Open(ctx)
	if errors.Is(err, cache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		h.recordBackendFailure(err, requestID, rc.Key(ctx))
		return false, err
	}
	defer cached.Reader.Close()

	h.setCommonHeaders(c, result)
	contentType := cached.Entry.ContentType
	if contentType == "" {
		contentType = contentTypeFor(cached.Entry.Key)
	}
	c.Set(fiber.HeaderContentType, contentType)
	if length := cached.Entry.SizeBytes; length > 0 {
		c.Response().Header.SetContentLength(int(length))
	}
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		return true, nil
	}
	if _, err := io.Copy(c.Response().BodyWriter(), cached.Reader); err != nil {
		return true, fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("read cache failed: %v", err))
	}
	return true, nil
}

// serveBytes 直接返回刚生成的字节，用于后端不可用或条目已被清理的情况。
func (h *Handler) serveBytes(c fiber.Ctx, art *artifact, result string) error {
	h.setCommonHeaders(c, result)
	c.Set(fiber.HeaderContentType, art.contentType)
	c.Status(fiber.StatusOK)
	if c.Method() == http.MethodHead {
		c.Response().Header.SetContentLength(len(art.data))
		return nil
	}
	return c.Send(art.data)
}

func (h *Handler) setCommonHeaders(c fiber.Ctx, result string) {
	c.Set(headerCacheResult, result)
	if maxAge := h.cache.BrowserMaxAge(); maxAge > 0 {
		c.Set(fiber.HeaderCacheControl, "public, max-age="+strconv.FormatInt(int64(maxAge/time.Second), 10))
	} else {
		c.Set(fiber.HeaderCacheControl, "no-cache")
	}
}

// resolveRequest 把 URL 解析为 cache.Request；失败时返回状态码与错误码。
func (h *Handler) resolveRequest(c fiber.Ctx) (cache.Request, int, string) {
	rawPath := string(c.Request().URI().Path())
	rawQuery := string(c.Request().URI().QueryString())
	if rawPath == server.RemotePath {
		return h.resolveRemote(rawQuery)
	}

	clean := path.Clean("/" + rawPath)
	if clean == "/" {
		return cache.Request{}, fiber.StatusBadRequest, "image_path_required"
	}
	return cache.Request{
		RequestPath: clean,
		FullPath:    clean,
		Querystring: rawQuery,
	}, 0, ""
}

func (h *Handler) resolveRemote(rawQuery string) (cache.Request, int, string) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return cache.Request{}, fiber.StatusBadRequest, "invalid_query"
	}
	src := strings.TrimSpace(values.Get("src"))
	if src == "" {
		return cache.Request{}, fiber.StatusBadRequest, "remote_src_required"
	}
	u, err := url.Parse(src)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return cache.Request{}, fiber.StatusBadRequest, "invalid_remote_src"
	}
	if !h.remoteAllowed(u) {
		return cache.Request{RequestPath: src}, fiber.StatusForbidden, "remote_host_forbidden"
	}

	values.Del("src")
	return cache.Request{
		RequestPath: u.String(),
		FullPath:    u.String(),
		Querystring: values.Encode(),
	}, 0, ""
}

func (h *Handler) remoteAllowed(u *url.URL) bool {
	if h.allowRemote == nil {
		return false
	}
	return h.allowRemote(u.Host) || h.allowRemote(u.Hostname())
}

func classifySourceError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSourceNotFound):
		return fiber.StatusNotFound, "source_not_found"
	case errors.Is(err, ErrSourceUnavailable):
		return fiber.StatusBadGateway, "upstream_failed"
	default:
		return fiber.StatusInternalServerError, "process_failed"
	}
}

func (h *Handler) recordBackendFailure(err error, requestID, key string) {
	op, _ := cache.FailureContext(err)["op"].(string)
	h.metrics.RecordStoreFailure(op)

	fields := logging.BackendFields(h.cache.BackendKey(), op, key)
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithError(err).WithFields(fields).Warn("cache_backend_failed")
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	requestID string,
	req cache.Request,
	key string,
	result string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(requestID, req.FullPath, key, result)
	fields["action"] = "image"
	fields["source"] = req.RequestPath
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("image_failed")
		return
	}
	h.logger.WithFields(fields).Info("image_complete")
}

// fiberRequestContext 将 RewritePath 的结果写入响应头，并记住位置供后续返回使用。
type fiberRequestContext struct {
	c        fiber.Ctx
	location string
}

func (f *fiberRequestContext) RewritePath(location string) {
	f.location = location
	f.c.Set(headerCacheLocation, location)
}

func isRedirectLocation(location string) bool {
	u, err := url.Parse(location)
	if err != nil || !u.IsAbs() {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
