package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"map-export/internal/logger"
	"map-export/internal/utils"
)

// 文档注释：令牌桶限流中间件（每秒）
// 背景：栅格导出占用 CPU 与内存，在流量峰值时对入口进行限速，避免渲染被过载；按环境变量开关与速率配置。
// 约束：简化实现，不做队列排队，仅丢弃并返回 429。
type TokenBucket struct {
	capacity int
	tokens   int
	lastSec  int64
	mu       sync.Mutex
	now      func() time.Time
}

func NewTokenBucket(qps int) *TokenBucket {
	if qps <= 0 {
		qps = 1
	}
	return &TokenBucket{capacity: qps, tokens: qps, lastSec: time.Now().Unix(), now: time.Now}
}

func (tb *TokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	nowSec := tb.now().Unix()
	if tb.lastSec != nowSec {
		tb.lastSec = nowSec
		tb.tokens = tb.capacity
	}
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Limit 以给定令牌桶包装处理器
func Limit(tb *TokenBucket, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tb.allow() {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Wrap 入口中间件：注入边缘节点国家代码，RATE_LIMIT_ENABLED=true 时按 RATE_LIMIT_QPS（默认 200）限流
func Wrap(next http.Handler) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cc := edgeCountry(r); cc != "" {
			r = r.WithContext(context.WithValue(r.Context(), edgeCountryKey{}, cc))
		}
		next.ServeHTTP(w, r)
	})
	if utils.EnvBool("RATE_LIMIT_ENABLED", false) {
		return Limit(NewTokenBucket(utils.EnvInt("RATE_LIMIT_QPS", 200)), h)
	}
	return h
}

type edgeCountryKey struct{}

// EdgeCountry 边缘节点（CDN）声明的访问者国家代码；未声明时返回空串
func EdgeCountry(ctx context.Context) string {
	s, _ := ctx.Value(edgeCountryKey{}).(string)
	return s
}

// 文档注释：读取 CDN 改写的国家头
// 背景：EdgeOne 与 Cloudflare 会在回源请求上附带访问者国家，可免去一次 IP 库查询。
// 约束：只接受两位字母代码；Cloudflare 的 XX/T1 等占位值视为未知。
func edgeCountry(r *http.Request) string {
	h := r.Header
	for _, k := range []string{"X-EO-Geo-CountryCodeAlpha2", "CF-IPCountry"} {
		v := strings.ToUpper(strings.TrimSpace(h.Get(k)))
		if len(v) != 2 || v == "XX" || v == "T1" || !isAlpha(v) {
			continue
		}
		logger.L().Debug("edge_country_inject", "header", k, "country", v)
		return v
	}
	return ""
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
