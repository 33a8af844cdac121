package config

import (
	"errors"
	"fmt"
	"strings"
)

// maxDaysLimit 与 cache.MaxDaysLimit 保持一致，约 100 年。
const maxDaysLimit = 36500

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.SourceRoot) == "" {
		return newFieldError("Global.SourceRoot", "不能为空")
	}
	if g.MaxDays < 0 {
		return newFieldError("Global.MaxDays", "不能为负数")
	}
	if g.MaxDays > maxDaysLimit {
		return newFieldError("Global.MaxDays", fmt.Sprintf("不能超过 %d", maxDaysLimit))
	}
	if g.BrowserMaxDays < 0 {
		return newFieldError("Global.BrowserMaxDays", "不能为负数")
	}
	if g.BrowserMaxDays > maxDaysLimit {
		return newFieldError("Global.BrowserMaxDays", fmt.Sprintf("不能超过 %d", maxDaysLimit))
	}
	if g.TrimInterval.DurationValue() <= 0 {
		return newFieldError("Global.TrimInterval", "必须大于 0")
	}
	if g.ProbeTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ProbeTimeout", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	for _, host := range g.RemoteHosts {
		if err := validateHost(host); err != nil {
			return newFieldError("Global.RemoteHosts", err.Error())
		}
	}

	if strings.TrimSpace(c.Cache.Backend) == "" {
		return newFieldError("Cache.Backend", "不能为空")
	}

	return nil
}

func validateHost(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return errors.New("主机名不能为空")
	}
	if strings.Contains(host, "/") {
		return errors.New("主机名不允许包含路径")
	}
	if strings.Contains(host, " ") {
		return errors.New("主机名不允许包含空格")
	}
	if strings.HasPrefix(host, "http") && strings.Contains(host, "://") {
		return errors.New("主机名不应包含协议头")
	}
	if _, err := compileHostPattern(strings.ToLower(host)); err != nil {
		return fmt.Errorf("主机名模式无效: %w", err)
	}
	return nil
}
