package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"map-export/internal/geometry"
	"map-export/internal/logger"
	"map-export/internal/metrics"
	"map-export/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const (
	flyToKeyPrefix   = "flyto:"
	flyToBloomPrefix = "flyto:seen:"
	bloomBits        = 1 << 20
	bloomHashes      = 4
)

type flyToBody struct {
	ISO    string          `json:"iso"`
	Source string          `json:"source"`
	Target *geometry.FlyTo `json:"target"`
}

// 文档注释：解析飞行定位的国家代码
// 优先级：显式 iso → 显式 ip 经 GeoIP → 边缘节点国家头 → 访问者 IP 经 GeoIP。
// 返回：国家代码与来源标识；全部失败时返回空串。
func (s *server) resolveISO(r *http.Request) (string, string) {
	q := r.URL.Query()
	if iso := strings.ToUpper(strings.TrimSpace(q.Get("iso"))); iso != "" {
		return iso, "query"
	}
	if ip := strings.TrimSpace(q.Get("ip")); ip != "" && s.GeoIP != nil {
		if iso, ok := s.GeoIP.CountryISO(ip); ok {
			return strings.ToUpper(iso), "geoip"
		}
		return "", ""
	}
	if iso := middleware.EdgeCountry(r.Context()); iso != "" {
		return iso, "edge"
	}
	if s.GeoIP != nil {
		if iso, ok := s.GeoIP.CountryISO(getVisitorIP(r)); ok {
			return strings.ToUpper(iso), "visitor"
		}
	}
	return "", ""
}

// 文档注释：飞行定位目标查询
// 背景：中心与缩放级别只依赖静态要素数据，按国家代码写入 Redis 缓存；Redis 不可用时直接计算。
// 约束：未找到国家时返回 404 且不计入统计；同一访问者同一国家每天只计一次。
func (s *server) handleFlyTo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	iso, source := s.resolveISO(r)
	if iso == "" {
		metrics.FlyToNotFoundTotal.Inc()
		writeJSON(w, http.StatusNotFound, errorBody{Error: "country not resolved"})
		return
	}
	target, ok := s.cachedFlyTo(ctx, iso)
	if !ok {
		metrics.FlyToNotFoundTotal.Inc()
		writeJSON(w, http.StatusNotFound, errorBody{Error: "country not found: " + iso})
		return
	}
	s.countFlyTo(ctx, getVisitorIP(r), iso)
	writeJSON(w, http.StatusOK, flyToBody{ISO: iso, Source: source, Target: target})
}

func (s *server) cachedFlyTo(ctx context.Context, iso string) (*geometry.FlyTo, bool) {
	key := flyToKeyPrefix + iso
	if s.Redis != nil {
		b, err := s.Redis.Get(ctx, key).Bytes()
		if err == nil {
			var ft geometry.FlyTo
			if json.Unmarshal(b, &ft) == nil {
				metrics.FlyToHitsTotal.Inc()
				return &ft, true
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.L().Warn("flyto_cache_read_failed", "iso", iso, "err", err)
		}
	}
	metrics.FlyToMissesTotal.Inc()
	ft, ok := geometry.CenterAndZoomFor(s.Features, iso)
	if !ok {
		return nil, false
	}
	if s.Redis != nil {
		if b, err := json.Marshal(ft); err == nil {
			if err := s.Redis.Set(ctx, key, b, s.Config.FlyToTTL).Err(); err != nil {
				logger.L().Warn("flyto_cache_write_failed", "iso", iso, "err", err)
			}
		}
	}
	return ft, true
}

func (s *server) countFlyTo(ctx context.Context, visitor, iso string) {
	day := time.Now().UTC().Format("20060102")
	pos := bloomPositions([]byte(visitor+"|"+iso), bloomBits, bloomHashes)
	first, err := bloomCheckAndSet(ctx, s.Redis, flyToBloomPrefix+day, pos, 48*time.Hour)
	if err != nil {
		logger.L().Warn("flyto_dedupe_failed", "err", err)
	}
	if !first {
		return
	}
	if err := s.Store.RecordFlyTo(ctx, iso); err != nil {
		logger.L().Error("flyto_record_failed", "iso", iso, "err", err)
	}
}
