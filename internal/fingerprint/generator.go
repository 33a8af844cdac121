package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"strings"
)

// DefaultExtension 在 querystring 与路径都无法给出扩展名时使用。
const DefaultExtension = "jpg"

// formatParam 是处理指令中用于指定输出格式的参数名。
const formatParam = "format"

// Generate 返回 "<key>.<ext>" 形式的缓存文件名。querystring 只影响扩展名，不参与哈希。
func Generate(signal, fullPath, querystring string) string {
	return Key(signal, fullPath) + "." + Extension(fullPath, querystring)
}

// Key 计算 sha1(signal + fullPath) 的十六进制小写形式。
func Key(signal, fullPath string) string {
	sum := sha1.Sum([]byte(signal + fullPath))
	return hex.EncodeToString(sum[:])
}

// IsKey 判断 name 是否为 Generate 产出的文件名：40 位小写十六进制 + "." + 扩展名。
func IsKey(name string) bool {
	hash, ext, ok := strings.Cut(name, ".")
	if !ok || len(hash) != sha1.Size*2 || ext == "" {
		return false
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return normalizeExtension(ext) == ext
}

// Extension 解析目标扩展名：format 指令优先，其次为源路径扩展名，最后回退到 jpg。
func Extension(fullPath, querystring string) string {
	if ext := normalizeExtension(queryFormat(querystring)); ext != "" {
		return ext
	}
	if ext := normalizeExtension(path.Ext(stripQuery(fullPath))); ext != "" {
		return ext
	}
	return DefaultExtension
}

func queryFormat(querystring string) string {
	raw := strings.TrimPrefix(strings.TrimSpace(querystring), "?")
	if raw == "" {
		return ""
	}
	// ParseQuery 遇到非法片段时仍会返回其余可解析的键值
	values, _ := url.ParseQuery(raw)
	return values.Get(formatParam)
}

// stripQuery 去掉 URL 的 query/fragment，远程地址只保留路径部分。
func stripQuery(fullPath string) string {
	if parsed, err := url.Parse(fullPath); err == nil && parsed.Scheme != "" {
		return parsed.Path
	}
	if idx := strings.IndexAny(fullPath, "?#"); idx >= 0 {
		return fullPath[:idx]
	}
	return fullPath
}

func normalizeExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	ext = strings.TrimLeft(ext, ".")
	if ext == "" || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return strings.ToLower(ext)
}
