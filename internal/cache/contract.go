package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Request 唯一标识一次图片处理请求，在一次缓存操作期间不可变。
type Request struct {
	// RequestPath 是源资源位置：本地文件路径或 http(s) URL。
	RequestPath string
	// FullPath 是参与哈希的已解析路径。
	FullPath string
	// Querystring 是处理指令，只影响扩展名（以及开启命名空间时的哈希）。
	Querystring string
}

// Entry 描述后端持有的一个缓存条目。
type Entry struct {
	Key         string    `json:"key"`
	CreatedAt   time.Time `json:"created_at"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type,omitempty"`
}

// ReadResult 组合 Entry 与正文 Reader，便于直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// Backend 是具体存储（磁盘、对象存储、内存）需要实现的接口。所有方法都可能被
// 多个请求并发调用；同一个 key 的 Put 必须在返回后对随后的 Stat 可见。
type Backend interface {
	// Stat 返回条目元数据，不存在时返回 ErrNotFound。
	Stat(ctx context.Context, key string) (Entry, error)

	// Open 返回可流式读取的条目，不存在时返回 ErrNotFound。
	Open(ctx context.Context, key string) (*ReadResult, error)

	// Put 覆盖写入 key 对应的产物，失败时不得留下半成品。
	Put(ctx context.Context, key string, body io.Reader, contentType string) (*Entry, error)

	// Remove 删除条目，条目不存在不视为错误。
	Remove(ctx context.Context, key string) error

	// List 枚举所有条目，供 Trim 判断过期。
	List(ctx context.Context) ([]Entry, error)

	// Location 返回产物对外可寻址的位置（虚拟路径或绝对 URL）。
	Location(key string) string
}

// RequestContext 是对外响应/路由上下文的最小抽象，RewritePath 通过它改写目标位置。
type RequestContext interface {
	RewritePath(location string)
}

// RequestContextFunc adapts a function to RequestContext.
type RequestContextFunc func(location string)

// RewritePath makes RequestContextFunc satisfy RequestContext.
func (f RequestContextFunc) RewritePath(location string) {
	f(location)
}

// Contract 是流水线针对单个 Request 驱动的缓存状态机：
//
//	Unchecked -> {Fresh, Stale/Missing}; Stale/Missing -> Populating -> Fresh
type Contract interface {
	// IsNewOrUpdated 在条目缺失或过期时返回 true，只做只读查询。
	IsNewOrUpdated(ctx context.Context) (bool, error)

	// AddToCache 以当前指纹覆盖写入产物。
	AddToCache(ctx context.Context, content io.Reader, contentType string) error

	// TrimCache 删除所有超过 MaxDays 的条目。
	TrimCache(ctx context.Context) error

	// RewritePath 将缓存产物的位置写入 rc。
	RewritePath(rc RequestContext)

	// CreateCachedFileName 每次调用都会重新探测并计算文件名，调用方应自行缓存结果。
	CreateCachedFileName(ctx context.Context) string
}
