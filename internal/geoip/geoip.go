// 包 geoip：访问者 IP → 国家 ISO-3166 alpha-2 代码（MaxMind 格式库）
package geoip

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"map-export/internal/logger"

	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

var ErrNoDatabase = errors.New("geoip: no database configured")

// Resolver 国家解析器；零值或 nil 时所有查询未命中
// 约束：GeoIP2/GeoLite2/DB-IP 库走 geoip2 的 Country 模型；其他 mmdb（如 ipinfo lite）按通用字段读取。
type Resolver struct {
	typed   *geoip2.Reader
	generic *maxminddb.Reader
	dbType  string
}

// 通用记录：同时兼容 country.iso_code 与扁平的 country_code 字段
type genericRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	CountryCode string `maxminddb:"country_code"`
}

// Open 读取 mmdb 文件；路径为空返回 ErrNoDatabase
func Open(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoDatabase
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geoip db: %w", err)
	}
	return FromBytes(b)
}

func FromBytes(b []byte) (*Resolver, error) {
	db, err := maxminddb.FromBytes(b)
	if err != nil {
		return nil, fmt.Errorf("open geoip db: %w", err)
	}
	r := &Resolver{dbType: db.Metadata.DatabaseType}
	if isTyped(r.dbType) {
		typed, err := geoip2.FromBytes(b)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open geoip2 db: %w", err)
		}
		_ = db.Close()
		r.typed = typed
	} else {
		r.generic = db
	}
	logger.L().Info("geoip_loaded", "type", r.dbType, "typed", r.typed != nil)
	return r, nil
}

func isTyped(dbType string) bool {
	for _, p := range []string{"GeoIP2", "GeoLite2", "DBIP"} {
		if strings.Contains(dbType, p) {
			return true
		}
	}
	return false
}

// DatabaseType mmdb 元数据中的库类型
func (r *Resolver) DatabaseType() string {
	if r == nil {
		return ""
	}
	return r.dbType
}

// CountryISO 解析国家代码（大写 alpha-2）；非法 IP、未收录或无库时返回 false
func (r *Resolver) CountryISO(ipStr string) (string, bool) {
	if r == nil {
		return "", false
	}
	ip := ParseIP(ipStr)
	if ip == nil {
		return "", false
	}
	var code string
	switch {
	case r.typed != nil:
		rec, err := r.typed.Country(ip)
		if err != nil {
			logger.L().Debug("geoip_lookup_error", "ip", ipStr, "err", err)
			return "", false
		}
		code = rec.Country.IsoCode
	case r.generic != nil:
		var rec genericRecord
		if err := r.generic.Lookup(ip, &rec); err != nil {
			logger.L().Debug("geoip_lookup_error", "ip", ipStr, "err", err)
			return "", false
		}
		code = rec.Country.ISOCode
		if code == "" {
			code = rec.CountryCode
		}
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, code != ""
}

func (r *Resolver) Close() error {
	if r == nil {
		return nil
	}
	if r.typed != nil {
		return r.typed.Close()
	}
	if r.generic != nil {
		return r.generic.Close()
	}
	return nil
}

// ParseIP 解析 IPv4/IPv6 文本，容忍端口与方括号（如 "[::1]:80"、"1.2.3.4:5"）
func ParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if ip := net.ParseIP(s); ip != nil {
		return ip
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(strings.Trim(s, "[]"))
}
