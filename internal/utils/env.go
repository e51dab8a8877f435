// 包 utils：环境变量读取、数据库/Redis 连接与自签名证书工具
package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString 读取字符串，未设置或全空白时返回默认值
func EnvString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvInt 读取正整数；解析失败或非正数时回退默认值
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, e := strconv.Atoi(strings.TrimSpace(v)); e == nil && n > 0 {
			return n
		}
	}
	return def
}

// EnvFloat 读取正浮点数；解析失败或非正数时回退默认值
func EnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, e := strconv.ParseFloat(strings.TrimSpace(v), 64); e == nil && f > 0 {
			return f
		}
	}
	return def
}

// EnvBool 只有 "true"/"1"/"yes" 视为真；未设置时返回默认值
func EnvBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "true", "1", "yes":
		return true
	}
	return false
}

// EnvSeconds 以秒为单位读取时长
func EnvSeconds(key string, def time.Duration) time.Duration {
	if n := EnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
