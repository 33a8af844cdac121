package main

// 注册所有缓存后端，配置中的 Cache.Backend 通过注册表解析。
import (
	_ "github.com/any-hub/imgcache/internal/cache/blob"
	_ "github.com/any-hub/imgcache/internal/cache/disk"
	_ "github.com/any-hub/imgcache/internal/cache/memory"
)
