package pipeline

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/fingerprint"
)

// Processor 将源图片按 Request 中的处理指令转换为最终产物。
type Processor interface {
	// Process 读取 src 并写入 dst，返回产物的 Content-Type。
	Process(ctx context.Context, req cache.Request, src *Source, dst io.Writer) (string, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, req cache.Request, src *Source, dst io.Writer) (string, error)

// Process makes ProcessorFunc satisfy Processor.
func (f ProcessorFunc) Process(ctx context.Context, req cache.Request, src *Source, dst io.Writer) (string, error) {
	return f(ctx, req, src, dst)
}

// Passthrough 原样复制源字节，不做任何变换。
type Passthrough struct{}

func (Passthrough) Process(ctx context.Context, _ cache.Request, src *Source, dst io.Writer) (string, error) {
	if _, err := cache.CopyContext(ctx, dst, src.Body); err != nil {
		return "", err
	}
	return src.ContentType, nil
}

// contentTypeFor 依据扩展名推断 Content-Type，未知时返回 application/octet-stream。
func contentTypeFor(name string) string {
	ext := path.Ext(stripQuery(name))
	if ext == "" {
		ext = "." + fingerprint.DefaultExtension
	}
	if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func stripQuery(raw string) string {
	if idx := strings.IndexAny(raw, "?#"); idx >= 0 {
		return raw[:idx]
	}
	return raw
}
