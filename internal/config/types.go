package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/glob"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述服务级运行参数与过期策略。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// SourceRoot 是本地源图片所在目录，请求路径相对于它解析。
	SourceRoot string `mapstructure:"SourceRoot"`
	// RemoteHosts 允许作为远程源的主机名，为空时禁用远程源。
	RemoteHosts []string `mapstructure:"RemoteHosts"`

	MaxDays        int `mapstructure:"MaxDays"`
	BrowserMaxDays int `mapstructure:"BrowserMaxDays"`
	// FingerprintQuery 为 true 时，处理指令参与指纹哈希，避免不同指令共用同一个 key。
	FingerprintQuery bool `mapstructure:"FingerprintQuery"`

	TrimInterval    Duration `mapstructure:"TrimInterval"`
	ProbeTimeout    Duration `mapstructure:"ProbeTimeout"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// CacheConfig 选择缓存后端并提供其设置。
type CacheConfig struct {
	Backend  string            `mapstructure:"Backend"`
	Settings map[string]string `mapstructure:"Settings"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:"Cache"`
}

// RemoteEnabled 表示是否允许远程源。
func (g GlobalConfig) RemoteEnabled() bool {
	return len(g.RemoteHosts) > 0
}

// AllowsRemoteHost 判断 host（可带端口）是否在白名单内，比较时忽略大小写。
// 白名单条目支持 glob 语法，"*" 不跨越 "."，例如 "*.example.com"。
func (g GlobalConfig) AllowsRemoteHost(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, allowed := range g.RemoteHosts {
		pattern := strings.ToLower(strings.TrimSpace(allowed))
		if pattern == host {
			return true
		}
		matcher, err := compileHostPattern(pattern)
		if err != nil {
			continue
		}
		if matcher.Match(host) {
			return true
		}
	}
	return false
}

func compileHostPattern(pattern string) (glob.Glob, error) {
	return glob.Compile(pattern, '.')
}
