package llm

import (
	"errors"
	"time"
)

var (
	// ErrMalformedResponse 供应商响应缺字段或数量不匹配。
	ErrMalformedResponse = errors.New("malformed provider response")
	// ErrEmptyResponse 供应商没有返回任何内容。
	ErrEmptyResponse = errors.New("empty provider response")
)

// 以下辅助函数从工厂配置 map 中读取可选字段，类型不符时返回 def。

func StringValue(m map[string]any, key, def string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return def
}

func IntValue(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

func DurationValue(m map[string]any, key string, def time.Duration) time.Duration {
	switch v := m[key].(type) {
	case time.Duration:
		if v > 0 {
			return v
		}
	case string:
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
