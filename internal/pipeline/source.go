package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/any-hub/imgcache/internal/fingerprint"
)

// ErrSourceNotFound 表示本地或远程源图片不存在。
var ErrSourceNotFound = errors.New("source image not found")

// ErrSourceUnavailable 表示远程源返回了非 2xx 状态或网络失败。
var ErrSourceUnavailable = errors.New("source image unavailable")

// Source 是一次读取源图片的结果，调用方负责关闭 Body。
type Source struct {
	Body        io.ReadCloser
	ContentType string
	SizeBytes   int64
}

// Fetcher 读取源图片正文：本地路径走 billy 文件系统，http(s) 走共享 http.Client。
type Fetcher struct {
	fs     billy.Filesystem
	client *http.Client
}

// NewFetcher 构造 Fetcher，client 为空时使用 http.DefaultClient。
func NewFetcher(fsys billy.Filesystem, client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{fs: fsys, client: client}
}

// Fetch 打开 requestPath 指向的源图片。
func (f *Fetcher) Fetch(ctx context.Context, requestPath string) (*Source, error) {
	if fingerprint.IsRemote(requestPath) {
		return f.fetchRemote(ctx, requestPath)
	}
	return f.fetchLocal(requestPath)
}

func (f *Fetcher) fetchLocal(requestPath string) (*Source, error) {
	if f.fs == nil {
		return nil, fmt.Errorf("%w: no source filesystem", ErrSourceNotFound)
	}
	info, err := f.fs.Stat(requestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, requestPath)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, requestPath)
	}
	file, err := f.fs.Open(requestPath)
	if err != nil {
		return nil, err
	}
	return &Source{
		Body:        file,
		ContentType: contentTypeFor(requestPath),
		SizeBytes:   info.Size(),
	}, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, requestPath string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, requestPath)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = contentTypeFor(req.URL.Path)
	}
	return &Source{
		Body:        resp.Body,
		ContentType: contentType,
		SizeBytes:   resp.ContentLength,
	}, nil
}
