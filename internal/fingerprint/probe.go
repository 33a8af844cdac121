package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// DefaultProbeTimeout bounds the remote HEAD request when no timeout is configured.
const DefaultProbeTimeout = 5 * time.Second

// signalTimeLayout 固定为 RFC3339 UTC，与本地化设置无关。
const signalTimeLayout = time.RFC3339

// ProbeKind 标识一次探测命中的来源类型，供日志与指标区分。
type ProbeKind string

const (
	ProbeKindLocal  ProbeKind = "local"
	ProbeKindRemote ProbeKind = "remote"
)

// ErrUnexpectedStatus 表示远程资源返回了非 2xx 状态码。
var ErrUnexpectedStatus = errors.New("unexpected probe status")

// ProberOptions 控制 Prober 的依赖注入。
type ProberOptions struct {
	// Filesystem 用于读取本地源文件的元数据，默认以 "/" 为根的 osfs。
	Filesystem billy.Filesystem
	// Client 发送远程 HEAD 请求，默认使用 http.DefaultClient。
	Client *http.Client
	// Timeout 限制单次远程探测的等待时间。
	Timeout time.Duration
	// OnFailure 在探测降级为空信号时回调，可用于日志或计数。
	OnFailure func(kind ProbeKind, requestPath string, err error)
}

// Prober 读取源资源的新鲜度信号（时间戳 + 长度），不读取正文。
type Prober struct {
	fs        billy.Filesystem
	client    *http.Client
	timeout   time.Duration
	onFailure func(ProbeKind, string, error)
}

// NewProber 根据选项构造 Prober，未设置的字段使用默认值。
func NewProber(opts ProberOptions) *Prober {
	fsys := opts.Filesystem
	if fsys == nil {
		fsys = osfs.New("/")
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		fs:        fsys,
		client:    client,
		timeout:   timeout,
		onFailure: opts.OnFailure,
	}
}

// Probe 返回 requestPath 的新鲜度信号，任何错误都降级为空字符串。
func (p *Prober) Probe(ctx context.Context, requestPath string) string {
	signal, err := p.Signal(ctx, requestPath)
	if err != nil {
		if p.onFailure != nil {
			p.onFailure(kindOf(requestPath), requestPath, err)
		}
		return ""
	}
	return signal
}

// Signal 是 Probe 的显式失败版本：本地文件不存在时返回 ("", nil)。
func (p *Prober) Signal(ctx context.Context, requestPath string) (string, error) {
	if IsRemote(requestPath) {
		return p.remoteSignal(ctx, requestPath)
	}
	return p.localSignal(requestPath)
}

// IsRemote reports whether requestPath addresses an http(s) resource.
func IsRemote(requestPath string) bool {
	lower := strings.ToLower(strings.TrimSpace(requestPath))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func kindOf(requestPath string) ProbeKind {
	if IsRemote(requestPath) {
		return ProbeKindRemote
	}
	return ProbeKindLocal
}

func (p *Prober) localSignal(requestPath string) (string, error) {
	info, err := p.fs.Stat(requestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	if info.IsDir() {
		return "", nil
	}
	return formatSignal(info.ModTime(), info.Size()), nil
}

func (p *Prober) remoteSignal(ctx context.Context, requestPath string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, requestPath, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var stamp string
	if raw := resp.Header.Get("Last-Modified"); raw != "" {
		modified, err := http.ParseTime(raw)
		if err != nil {
			return "", fmt.Errorf("parse last-modified: %w", err)
		}
		stamp = modified.UTC().Format(signalTimeLayout)
	}

	var length string
	if resp.ContentLength >= 0 {
		length = strconv.FormatInt(resp.ContentLength, 10)
	} else if raw := strings.TrimSpace(resp.Header.Get("Content-Length")); raw != "" {
		length = raw
	}
	return stamp + length, nil
}

func formatSignal(stamp time.Time, size int64) string {
	return stamp.UTC().Format(signalTimeLayout) + strconv.FormatInt(size, 10)
}
