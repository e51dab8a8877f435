// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"map-export/internal/cache"
	"map-export/internal/download"
	"map-export/internal/geometry"
	"map-export/internal/logger"
	"map-export/internal/metrics"
	"map-export/internal/store"

	"github.com/paulmach/orb/geojson"
	"github.com/redis/go-redis/v9"
)

// CountryResolver 访问者 IP → 国家 alpha-2 代码
type CountryResolver interface {
	CountryISO(ip string) (string, bool)
}

// Config 服务端限额与缓存参数；零值字段使用默认值
type Config struct {
	MaxDimension    int
	MaxBodyBytes    int64
	RenderCacheSize int
	RenderCacheTTL  time.Duration
	FlyToTTL        time.Duration
}

func (c *Config) defaults() {
	if c.MaxDimension <= 0 {
		c.MaxDimension = 8192
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 32 << 20
	}
	if c.RenderCacheSize <= 0 {
		c.RenderCacheSize = 64
	}
	if c.RenderCacheTTL <= 0 {
		c.RenderCacheTTL = 10 * time.Minute
	}
	if c.FlyToTTL <= 0 {
		c.FlyToTTL = 24 * time.Hour
	}
}

// Deps 路由依赖；Store/Redis/GeoIP 均可为空，对应功能降级
type Deps struct {
	Features *geojson.FeatureCollection
	Locator  *geometry.Locator
	Store    *store.Store
	Redis    *redis.Client
	GeoIP    CountryResolver
	Config   Config
}

type server struct {
	Deps
	registry *download.Registry
	renders  *cache.LRU[download.Blob]
}

// 构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 API_BASE 前缀
func BuildRoutes(d Deps) *http.ServeMux {
	d.Config.defaults()
	if d.Locator == nil {
		d.Locator = geometry.NewLocator(d.Features, geometry.LocatorOptions{})
	}
	s := &server{
		Deps:     d,
		registry: download.NewRegistry(),
		renders:  cache.NewLRU[download.Blob](d.Config.RenderCacheSize, d.Config.RenderCacheTTL),
	}
	mux := http.NewServeMux()
	mux.Handle("/project", instrument("project", http.HandlerFunc(s.handleProject)))
	mux.Handle("/invert", instrument("invert", http.HandlerFunc(s.handleInvert)))
	mux.Handle("/locate", instrument("locate", http.HandlerFunc(s.handleLocate)))
	mux.Handle("/flyto", instrument("flyto", http.HandlerFunc(s.handleFlyTo)))
	mux.Handle("/map.svg", instrument("map", s.mapHandler("svg")))
	mux.Handle("/map.png", instrument("map", s.mapHandler("png")))
	mux.Handle("/map.jpeg", instrument("map", s.mapHandler("jpeg")))
	mux.Handle("/map.jpg", instrument("map", s.mapHandler("jpeg")))
	mux.Handle("/map.webp", instrument("map", s.mapHandler("webp")))
	mux.Handle("/export", instrument("export", http.HandlerFunc(s.handleExport)))
	mux.Handle("/stats", instrument("stats", http.HandlerFunc(s.handleStats)))
	return mux
}

func instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.RequestsTotal.WithLabelValues(route).Inc()
		next.ServeHTTP(w, r)
		metrics.RequestDurationMs.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.GetTotals(r.Context(), 10)
	if err != nil {
		logger.L().Error("stats_read_failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	created, revoked := s.registry.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     t.Total,
		"today":     t.Today,
		"failures":  t.Failures,
		"bytes":     t.Bytes,
		"by_format": t.ByFormat,
		"top_flyto": t.TopFlyTo,
		"object_urls": map[string]any{
			"created": created,
			"revoked": revoked,
			"live":    s.registry.Live(),
		},
	})
}
