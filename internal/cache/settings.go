package cache

import (
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Settings 是后端配置键值，键统一为小写。构造完成后视为只读。
type Settings map[string]string

// NewSettings 复制 raw 并规范化键名。
func NewSettings(raw map[string]string) Settings {
	out := make(Settings, len(raw))
	for key, value := range raw {
		if normalized := normalizeSettingKey(key); normalized != "" {
			out[normalized] = value
		}
	}
	return out
}

// Clone 返回独立副本，nil 时返回空 map。
func (s Settings) Clone() Settings {
	return NewSettings(s)
}

// Get 返回去除首尾空白后的值。
func (s Settings) Get(key string) string {
	return strings.TrimSpace(s[normalizeSettingKey(key)])
}

// GetDefault 在值为空时返回 fallback。
func (s Settings) GetDefault(key, fallback string) string {
	if value := s.Get(key); value != "" {
		return value
	}
	return fallback
}

// Keys 返回排序后的键列表，便于诊断输出。
func (s Settings) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeSettingKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Augmenter 在后端构造期间被调用恰好一次，可以补充或覆盖外部加载的设置。
type Augmenter interface {
	Augment(settings Settings) Settings
}

// AugmentFunc adapts a function to Augmenter.
type AugmentFunc func(Settings) Settings

// Augment makes AugmentFunc satisfy Augmenter.
func (f AugmentFunc) Augment(settings Settings) Settings {
	return f(settings)
}

// NoAugment 原样返回设置。
var NoAugment Augmenter = AugmentFunc(func(s Settings) Settings { return s })

// EnvAugmenter 使用 <PREFIX>_<KEY> 环境变量覆盖设置；keys 声明仅来自环境的额外键
// （例如 secret_key），已存在于 settings 中的键会自动参与覆盖。
func EnvAugmenter(prefix string, keys ...string) Augmenter {
	return AugmentFunc(func(settings Settings) Settings {
		v := viper.New()
		v.SetEnvPrefix(prefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		v.AutomaticEnv()

		candidates := make(map[string]struct{}, len(settings)+len(keys))
		for key := range settings {
			candidates[key] = struct{}{}
		}
		for _, key := range keys {
			if normalized := normalizeSettingKey(key); normalized != "" {
				candidates[normalized] = struct{}{}
			}
		}

		out := settings.Clone()
		for key := range candidates {
			if err := v.BindEnv(key); err != nil {
				continue
			}
			if v.IsSet(key) {
				out[key] = v.GetString(key)
			}
		}
		return out
	})
}

// chainAugmenters 依次执行多个 Augmenter，忽略 nil。
func chainAugmenters(augmenters ...Augmenter) Augmenter {
	return AugmentFunc(func(settings Settings) Settings {
		for _, augmenter := range augmenters {
			if augmenter == nil {
				continue
			}
			if next := augmenter.Augment(settings); next != nil {
				settings = next
			}
		}
		return settings
	})
}
