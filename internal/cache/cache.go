package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/any-hub/imgcache/internal/fingerprint"
)

const defaultTrimConcurrency = 8

// Prober 提供源资源的新鲜度信号，通常是 *fingerprint.Prober。
type Prober interface {
	Probe(ctx context.Context, requestPath string) string
}

// BackendConstructor 基于冻结后的设置创建后端。
type BackendConstructor func(settings Settings) (Backend, error)

// Static 将已构造好的后端包装为 BackendConstructor，常用于测试。
func Static(backend Backend) BackendConstructor {
	return func(Settings) (Backend, error) {
		return backend, nil
	}
}

// Options 是构造 Cache 时一次性提供的配置。
type Options struct {
	MaxDays        int
	BrowserMaxDays int
	// Settings 是外部加载的后端设置，构造时会被复制。
	Settings Settings
	// Augmenter 在后端默认 Augmenter 之后执行。
	Augmenter Augmenter
	Prober    Prober
	// NamespaceByQuery 将规范化后的 querystring 追加到参与哈希的路径上。
	NamespaceByQuery bool
	TrimConcurrency  int
	Now              func() time.Time
}

// Cache 持有一个后端实例及其冻结配置，可被并发请求共享。
type Cache struct {
	backend          Backend
	backendKey       string
	maxDays          int
	browserMaxDays   int
	settings         Settings
	prober           Prober
	namespaceByQuery bool
	trimConcurrency  int
	locks            *keyLocks
	now              func() time.Time
}

// New 执行两阶段构造：复制设置 → 调用 Augmenter 一次 → 冻结 → 构造后端。
func New(construct BackendConstructor, opts Options) (*Cache, error) {
	return newCache("", construct, opts)
}

func newCache(backendKey string, construct BackendConstructor, opts Options) (*Cache, error) {
	if construct == nil {
		return nil, errors.New("backend constructor required")
	}
	if opts.MaxDays < 0 || opts.MaxDays > MaxDaysLimit {
		return nil, fmt.Errorf("MaxDays=%d: %w", opts.MaxDays, ErrInvalidMaxDays)
	}
	if opts.BrowserMaxDays < 0 || opts.BrowserMaxDays > MaxDaysLimit {
		return nil, fmt.Errorf("BrowserMaxDays=%d: %w", opts.BrowserMaxDays, ErrInvalidMaxDays)
	}

	settings := opts.Settings.Clone()
	augmenter := opts.Augmenter
	if augmenter == nil {
		augmenter = NoAugment
	}
	if augmented := augmenter.Augment(settings); augmented != nil {
		settings = augmented
	}
	frozen := settings.Clone()

	backend, err := construct(frozen.Clone())
	if err != nil {
		return nil, fmt.Errorf("construct backend %q: %w", backendKey, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("construct backend %q: nil backend", backendKey)
	}

	concurrency := opts.TrimConcurrency
	if concurrency <= 0 {
		concurrency = defaultTrimConcurrency
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Cache{
		backend:          backend,
		backendKey:       backendKey,
		maxDays:          opts.MaxDays,
		browserMaxDays:   opts.BrowserMaxDays,
		settings:         frozen,
		prober:           opts.Prober,
		namespaceByQuery: opts.NamespaceByQuery,
		trimConcurrency:  concurrency,
		locks:            newKeyLocks(),
		now:              now,
	}, nil
}

// For 绑定一个 Request 并返回其缓存状态机。
func (c *Cache) For(req Request) *RequestCache {
	return &RequestCache{cache: c, req: req}
}

// Backend 返回底层存储。
func (c *Cache) Backend() Backend { return c.backend }

// BackendKey 返回注册表中的后端键，直接通过 New 构造时为空。
func (c *Cache) BackendKey() string { return c.backendKey }

// MaxDays 返回缓存条目的最大存活天数。
func (c *Cache) MaxDays() int { return c.maxDays }

// BrowserMaxDays 返回浏览器端缓存天数。
func (c *Cache) BrowserMaxDays() int { return c.browserMaxDays }

// BrowserMaxAge 以 time.Duration 形式返回 BrowserMaxDays。
func (c *Cache) BrowserMaxAge() time.Duration {
	return time.Duration(c.browserMaxDays) * day
}

// Setting 读取冻结后的设置值。
func (c *Cache) Setting(key string) string { return c.settings.Get(key) }

// Settings 返回冻结设置的副本。
func (c *Cache) Settings() Settings { return c.settings.Clone() }

// Expired 使用当前时钟与 MaxDays 判断 createdAt 是否过期。
func (c *Cache) Expired(createdAt time.Time) bool {
	return IsExpiredAt(createdAt, c.maxDays, c.now())
}

// Trim 删除所有过期条目并返回删除数量。每个删除都在对应 key 的锁内重新确认，
// 因此不会删除正在写入或刚刚写入的条目。
func (c *Cache) Trim(ctx context.Context) (int, error) {
	entries, err := c.backend.List(ctx)
	if err != nil {
		return 0, unavailable(err, "list", "")
	}

	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.trimConcurrency)
	for _, entry := range entries {
		// 只清理本服务写入的指纹文件，共享 bucket/目录里的其他对象不动
		if !fingerprint.IsKey(entry.Key) || !c.Expired(entry.CreatedAt) {
			continue
		}
		key := entry.Key
		g.Go(func() error {
			unlock := c.locks.lock(key)
			defer unlock()

			current, err := c.backend.Stat(gctx, key)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return unavailable(err, "stat", key)
			}
			if !c.Expired(current.CreatedAt) {
				return nil
			}
			if err := c.backend.Remove(gctx, key); err != nil {
				return unavailable(err, "remove", key)
			}
			removed.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(removed.Load()), err
}

func (c *Cache) fileName(ctx context.Context, req Request) string {
	var signal string
	if c.prober != nil {
		signal = c.prober.Probe(ctx, req.RequestPath)
	}
	hashed := req.FullPath
	if c.namespaceByQuery {
		if canonical := canonicalQuery(req.Querystring); canonical != "" {
			hashed += "?" + canonical
		}
	}
	return fingerprint.Generate(signal, hashed, req.Querystring)
}

// canonicalQuery 对参数排序，使参数顺序不同的同一组指令得到相同的 key。
func canonicalQuery(raw string) string {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "?")
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	return values.Encode()
}

// RequestCache 是 Contract 的实现，绑定单个 Request。首次需要时计算指纹并记住，
// 保证 IsNewOrUpdated/AddToCache/RewritePath/Open 作用于同一个 key。
type RequestCache struct {
	cache *Cache
	req   Request

	mu  sync.Mutex
	key string
}

var _ Contract = (*RequestCache)(nil)

// Request 返回绑定的请求。
func (r *RequestCache) Request() Request { return r.req }

// Key 返回本请求记住的缓存文件名。
func (r *RequestCache) Key(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key == "" {
		r.key = r.cache.fileName(ctx, r.req)
	}
	return r.key
}

func (r *RequestCache) CreateCachedFileName(ctx context.Context) string {
	return r.cache.fileName(ctx, r.req)
}

func (r *RequestCache) IsNewOrUpdated(ctx context.Context) (bool, error) {
	key := r.Key(ctx)
	entry, err := r.cache.backend.Stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, unavailable(err, "stat", key)
	}
	return r.cache.Expired(entry.CreatedAt), nil
}

func (r *RequestCache) AddToCache(ctx context.Context, content io.Reader, contentType string) error {
	if content == nil {
		return ErrNilContent
	}
	key := r.Key(ctx)
	unlock := r.cache.locks.lock(key)
	defer unlock()

	if _, err := r.cache.backend.Put(ctx, key, content, contentType); err != nil {
		return unavailable(err, "put", key)
	}
	return nil
}

func (r *RequestCache) TrimCache(ctx context.Context) error {
	_, err := r.cache.Trim(ctx)
	return err
}

func (r *RequestCache) RewritePath(rc RequestContext) {
	if rc == nil {
		return
	}
	rc.RewritePath(r.cache.backend.Location(r.Key(context.Background())))
}

// Open 读取已缓存的产物；条目不存在时返回 ErrNotFound。
func (r *RequestCache) Open(ctx context.Context) (*ReadResult, error) {
	key := r.Key(ctx)
	result, err := r.cache.backend.Open(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err, "open", key)
	}
	return result, nil
}
