package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 描述一次页面请求：所属 Library、作用域、页码与命中状态。
func RequestFields(library, scope string, item int64, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"library":   library,
		"scope":     scope,
		"item":      item,
		"cache_hit": cacheHit,
	}
}

// LibraryFields 输出 Library 维度的启动信息。
func LibraryFields(library, upstream, authMode string) logrus.Fields {
	return logrus.Fields{
		"library":   library,
		"upstream":  upstream,
		"auth_mode": authMode,
	}
}

// CacheFields 用于缓存维护日志（清理、预加载等），scope 为空时省略。
func CacheFields(action, library, scope string) logrus.Fields {
	fields := logrus.Fields{
		"action":  action,
		"library": library,
	}
	if scope != "" {
		fields["scope"] = scope
	}
	return fields
}
