// 包 export：活动场景 → 矢量（SVG）或栅格（PNG/JPEG/WebP）文件
package export

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Format 导出格式
type Format string

const (
	SVG  Format = "svg"
	PNG  Format = "png"
	JPEG Format = "jpeg"
	WebP Format = "webp"
)

const (
	DefaultScale        = 1
	DefaultMaxDimension = 8192
	DefaultQuality      = 0.92
	DefaultPixelRatio   = 1.0
)

var ErrUnknownFormat = errors.New("export: unknown format")

// ParseFormat 解析格式名（大小写不敏感，jpg 视为 jpeg）
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "svg":
		return SVG, nil
	case "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "webp":
		return WebP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// MIMEType 输出文件的媒体类型
func (f Format) MIMEType() string {
	switch f {
	case SVG:
		return "image/svg+xml"
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	case WebP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Raster 是否为栅格格式
func (f Format) Raster() bool { return f == PNG || f == JPEG || f == WebP }

// Request 导出请求
// Quality 取值 0..1，仅对 jpeg 生效；BackgroundColor 为空表示未指定（jpeg 仍会铺白底）。
type Request struct {
	Format           Format
	Filename         string
	Scale            int
	InlineStyles     bool
	MaxDimension     int
	Quality          float64
	BackgroundColor  string
	DevicePixelRatio float64
}

// NewRequest 带默认值的请求；内联样式默认开启
func NewRequest(f Format) Request {
	r := Request{Format: f, InlineStyles: true, Quality: DefaultQuality}
	r.Normalize()
	return r
}

// Normalize 补齐缺省字段：倍率 1、最大边 8192、像素比 1、按格式生成文件名
// 质量只在 NaN 或超出 [0,1] 时改为 0.92；显式的 0 保留（JPEG 按最低质量编码）。
func (r *Request) Normalize() {
	if r.Format == "" {
		r.Format = PNG
	}
	if r.Scale <= 0 {
		r.Scale = DefaultScale
	}
	if r.MaxDimension <= 0 {
		r.MaxDimension = DefaultMaxDimension
	}
	if math.IsNaN(r.Quality) || r.Quality < 0 || r.Quality > 1 {
		r.Quality = DefaultQuality
	}
	if !(r.DevicePixelRatio > 0) || math.IsInf(r.DevicePixelRatio, 0) {
		r.DevicePixelRatio = DefaultPixelRatio
	}
	r.BackgroundColor = strings.TrimSpace(r.BackgroundColor)
	if strings.TrimSpace(r.Filename) == "" {
		r.Filename = DefaultFilename(r.Format, r.Scale)
	}
}

// DefaultFilename map.svg；栅格文件名嵌入倍率，如 map@2x.png
func DefaultFilename(f Format, scale int) string {
	if f == SVG {
		return "map.svg"
	}
	if scale <= 0 {
		scale = DefaultScale
	}
	return fmt.Sprintf("map@%dx.%s", scale, f)
}
