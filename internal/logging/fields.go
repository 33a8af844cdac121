package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求路径、缓存 key 与结果字段，供图片请求日志复用。
func RequestFields(requestID, path, key, result string) logrus.Fields {
	return logrus.Fields{
		"request_id":   requestID,
		"path":         path,
		"cache_key":    key,
		"cache_result": result,
	}
}

// BackendFields 描述缓存后端操作。
func BackendFields(backend, op, key string) logrus.Fields {
	return logrus.Fields{
		"backend":   backend,
		"op":        op,
		"cache_key": key,
	}
}
