package cache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

// BackendFactory 记录一个后端的静态信息与构造方式。
type BackendFactory struct {
	Key         string
	Description string
	// SettingKeys 列出后端识别的设置键，供诊断与环境变量覆盖使用。
	SettingKeys []string
	// Augmenter 是后端默认的设置补充逻辑，为空时不做处理。
	Augmenter Augmenter
	New       BackendConstructor
}

type registry struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}

func newRegistry() *registry {
	return &registry{factories: make(map[string]BackendFactory)}
}

// Register 将后端加入全局注册表，重复键会返回错误。
func Register(factory BackendFactory) error {
	return globalRegistry.register(factory)
}

// MustRegister 在注册失败时 panic，适合后端包的 init() 中调用。
func MustRegister(factory BackendFactory) {
	if err := Register(factory); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的后端工厂。
func Resolve(key string) (BackendFactory, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的后端工厂列表。
func List() []BackendFactory {
	return globalRegistry.list()
}

// Keys 返回所有已注册后端的键值。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, factory := range items {
		result[i] = factory.Key
	}
	return result
}

// Open 根据注册表中的后端键构造 Cache；后端默认 Augmenter 先于 opts.Augmenter 执行。
func Open(key string, opts Options) (*Cache, error) {
	factory, ok := Resolve(key)
	if !ok {
		return nil, fmt.Errorf("cache backend %q is not registered", key)
	}
	opts.Augmenter = chainAugmenters(factory.Augmenter, opts.Augmenter)
	return newCache(factory.Key, factory.New, opts)
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(factory BackendFactory) error {
	key := r.normalizeKey(factory.Key)
	if key == "" {
		return fmt.Errorf("backend key is required")
	}
	if factory.New == nil {
		return fmt.Errorf("backend %s: constructor is required", key)
	}
	factory.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("backend %s already registered", key)
	}
	r.factories[key] = factory
	return nil
}

func (r *registry) resolve(key string) (BackendFactory, bool) {
	normalized := r.normalizeKey(key)
	if normalized == "" {
		return BackendFactory{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[normalized]
	return factory, ok
}

func (r *registry) list() []BackendFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.factories) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.factories))
	for key := range r.factories {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]BackendFactory, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.factories[key])
	}
	return result
}
