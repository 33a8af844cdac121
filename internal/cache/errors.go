package cache

import (
	"errors"

	perrors "github.com/jmgilman/go/errors"
)

// MaxDaysLimit 是 MaxDays/BrowserMaxDays 允许的上限（约 100 年）。
const MaxDaysLimit = 36500

// ErrInvalidMaxDays 表示 MaxDays/BrowserMaxDays 为负数或超过 MaxDaysLimit，在构造阶段直接拒绝。
var ErrInvalidMaxDays = errors.New("max days must be between 0 and 36500")

// ErrNilContent 表示 AddToCache 收到了空的正文。
var ErrNilContent = errors.New("cache content is nil")

// unavailable 将后端 I/O 错误包装为可重试的 SERVICE_UNAVAILABLE，并附带 op/key。
func unavailable(err error, op, key string) error {
	if err == nil {
		return nil
	}
	wrapped := perrors.Wrap(err, perrors.CodeUnavailable, "cache backend "+op+" failed")
	wrapped = perrors.WithContext(wrapped, "op", op)
	if key != "" {
		wrapped = perrors.WithContext(wrapped, "key", key)
	}
	return wrapped
}

// IsBackendFailure reports whether err came from the storage backend.
func IsBackendFailure(err error) bool {
	return perrors.GetCode(err) == perrors.CodeUnavailable
}

// FailureContext 返回后端错误附带的 op/key 等上下文，便于日志输出。
func FailureContext(err error) map[string]interface{} {
	var platformErr perrors.PlatformError
	if !perrors.As(err, &platformErr) {
		return nil
	}
	return platformErr.Context()
}
