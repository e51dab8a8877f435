package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapx_requests_total",
		Help: "Total number of API requests by route",
	}, []string{"route"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapx_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapx_exports_total",
		Help: "Total number of completed exports by format",
	}, []string{"format"})
	ExportCappedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapx_export_capped_total",
		Help: "Total raster exports whose target was capped by the max dimension",
	})
	ExportFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mapx_export_failures_total",
		Help: "Total export failures by pipeline stage",
	}, []string{"stage"})
	ExportDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mapx_export_duration_ms",
		Help:    "Export duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	}, []string{"format"})
	FlyToHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapx_flyto_redis_hits_total",
		Help: "Total fly-to redis cache hits",
	})
	FlyToMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapx_flyto_redis_misses_total",
		Help: "Total fly-to redis cache misses",
	})
	FlyToNotFoundTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapx_flyto_not_found_total",
		Help: "Total fly-to lookups without a matching feature",
	})
	RenderCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapx_render_cache_hits_total",
		Help: "Total in-process render cache hits",
	})
	RenderCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mapx_render_cache_misses_total",
		Help: "Total in-process render cache misses",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(ExportsTotal)
	prometheus.MustRegister(ExportCappedTotal)
	prometheus.MustRegister(ExportFailuresTotal)
	prometheus.MustRegister(ExportDurationMs)
	prometheus.MustRegister(FlyToHitsTotal)
	prometheus.MustRegister(FlyToMissesTotal)
	prometheus.MustRegister(FlyToNotFoundTotal)
	prometheus.MustRegister(RenderCacheHitsTotal)
	prometheus.MustRegister(RenderCacheMissesTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
