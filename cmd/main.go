// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"map-export/internal/api"
	"map-export/internal/geoip"
	"map-export/internal/geometry"
	"map-export/internal/logger"
	"map-export/internal/metrics"
	"map-export/internal/middleware"
	"map-export/internal/migrate"
	"map-export/internal/store"
	"map-export/internal/utils"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb/geojson"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := strings.TrimSuffix(utils.EnvString("API_BASE", "/api"), "/")
	l.Debug("config_api_base", "base", apiBase)

	// 背景：统计库为可选依赖；PG_ENABLED=false 或连接失败时统计接口返回零值，导出不受影响
	var st *store.Store
	if utils.EnvBool("PG_ENABLED", true) {
		db, err := utils.OpenPostgresFromEnv()
		if err != nil {
			l.Error("db_open_error", "err", err)
		} else if err := db.Ping(); err != nil {
			l.Error("db_ping_error", "err", err)
			_ = db.Close()
		} else {
			l.Info("db_ping_ok")
			if err := migrate.EnsureSchema(db); err != nil {
				l.Error("schema_error", "err", err)
				os.Exit(1)
			}
			st = store.AttachDB(db)
			defer st.Close()
		}
	} else {
		l.Info("db_disabled")
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else if err := rc.Ping(context.Background()).Err(); err != nil {
		l.Error("redis_ping_error", "err", err)
	} else {
		l.Info("redis_ping_ok")
	}

	// 背景：GeoIP 库只用于按访问者 IP 推断默认飞行定位国家；缺失时仅该功能降级
	var resolver api.CountryResolver
	geoPath := utils.EnvString("GEOIP_DB_PATH", filepath.Join("data", "geoip", "GeoLite2-Country.mmdb"))
	if r, err := geoip.Open(geoPath); err == nil {
		defer r.Close()
		resolver = r
		l.Info("geoip_ready", "path", geoPath, "type", r.DatabaseType())
	} else {
		l.Warn("geoip_unavailable", "path", geoPath, "err", err)
	}

	geoDir := utils.EnvString("GEOJSON_DIR", filepath.Join("data", "geojson"))
	fc, err := geometry.LoadFeatures(geoDir)
	if err != nil {
		l.Error("geojson_load_error", "dir", geoDir, "err", err)
		fc = geojson.NewFeatureCollection()
	}
	loc := geometry.NewLocator(fc, geometry.LocatorOptions{
		MaxRadiusKm: utils.EnvFloat("LOCATE_MAX_RADIUS_KM", 300),
		CacheSize:   utils.EnvInt("LOCATE_CACHE_SIZE", 4096),
		CacheTTL:    utils.EnvSeconds("LOCATE_CACHE_TTL_S", 0),
	})

	// 文档注释：构建路由（携带要素、定位器、统计库、缓存与 GeoIP）
	apiMux := api.BuildRoutes(api.Deps{
		Features: fc,
		Locator:  loc,
		Store:    st,
		Redis:    rc,
		GeoIP:    resolver,
		Config: api.Config{
			MaxDimension:    utils.EnvInt("EXPORT_MAX_DIMENSION", 8192),
			MaxBodyBytes:    int64(utils.EnvInt("EXPORT_MAX_BODY_BYTES", 32<<20)),
			RenderCacheSize: utils.EnvInt("RENDER_CACHE_SIZE", 64),
			RenderCacheTTL:  utils.EnvSeconds("RENDER_CACHE_TTL_S", 0),
			FlyToTTL:        utils.EnvSeconds("FLYTO_CACHE_TTL_S", 0),
		},
	})
	mux := http.NewServeMux()
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	// NOTE: 向前端暴露 API 基础路径，避免硬编码
	mux.HandleFunc("/config.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/javascript; charset=utf-8")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write([]byte("window.__API_BASE__='" + apiBase + "'\n"))
	})
	if ui := utils.EnvString("UI_DIST", filepath.Join("ui", "dist")); ui != "" {
		if _, err := os.Stat(ui); err == nil {
			mux.Handle("/", http.FileServer(http.Dir(ui)))
			l.Debug("config_ui_dir", "dir", ui)
		}
	}

	addr := utils.EnvString("ADDR", ":8080")
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	if utils.EnvBool("TLS_ENABLE", false) {
		certPath := utils.EnvString("TLS_CERT_PATH", filepath.Join("data", "certs", "server.crt"))
		keyPath := utils.EnvString("TLS_KEY_PATH", filepath.Join("data", "certs", "server.key"))
		cfg, err := utils.LoadTLSConfig(certPath, keyPath, "map-export.local")
		if err != nil {
			l.Error("tls_config_error", "err", err)
			os.Exit(1)
		}
		s.TLSConfig = cfg
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		if err := s.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			l.Error("server_error", "err", err)
		}
		return
	}
	l.Info("listening", "addr", addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		l.Error("server_error", "err", err)
	}
}
