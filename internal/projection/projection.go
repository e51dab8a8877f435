// 包 projection：经纬度与视口像素坐标互转；按投影族、视口尺寸、缩放除数、缩放倍数与中心参数化
package projection

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// Family 投影族名称
type Family string

const (
	Mercator        Family = "mercator"
	NaturalEarth1   Family = "naturalearth1"
	Equirectangular Family = "equirectangular"
	Orthographic    Family = "orthographic"
)

var (
	ErrUnknownFamily     = errors.New("projection: unknown family")
	ErrInvalidDescriptor = errors.New("projection: invalid descriptor")
)

const (
	radians = math.Pi / 180
	degrees = 180 / math.Pi
	// 反算结果超出经纬度定义域的容差（度）
	domainEpsilon = 1e-9
)

// Descriptor 投影描述
// 约束：Width/Height/ScaleDivisor 必须为正；Zoom 为 0 时视为 1；Center 零值即 [0,0]。
// Center 超出经纬度范围时不做校验，直接进入投影数学，结果可能退化但不会 panic。
type Descriptor struct {
	Family       Family
	Width        float64
	Height       float64
	ScaleDivisor float64
	Zoom         float64
	Center       orb.Point
}

// Projection 前向/反向坐标变换；构建后只读，可并发使用
type Projection struct {
	desc   Descriptor
	raw    rawProjection
	k      float64
	tx, ty float64
	cx, cy float64
}

// ParseFamily 解析投影族名称（大小写与连字符不敏感），空串回退 Mercator
func ParseFamily(s string) (Family, error) {
	n := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	switch n {
	case "", "mercator":
		return Mercator, nil
	case "naturalearth1", "naturalearth":
		return NaturalEarth1, nil
	case "equirectangular", "platecarree":
		return Equirectangular, nil
	case "orthographic":
		return Orthographic, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
}

// Build 由描述构建投影
// 缩放：scale = min(width,height)/scaleDivisor*zoom；平移恒为视口中心，与 zoom/center 无关。
// 中心点经原始投影后对齐到平移点，等价于 d3 的 projection.center。
func Build(d Descriptor) (*Projection, error) {
	if d.Zoom == 0 {
		d.Zoom = 1
	}
	if !(d.Width > 0) || !(d.Height > 0) || !(d.ScaleDivisor > 0) || !(d.Zoom > 0) {
		return nil, fmt.Errorf("%w: width=%v height=%v divisor=%v zoom=%v", ErrInvalidDescriptor, d.Width, d.Height, d.ScaleDivisor, d.Zoom)
	}
	raw, err := rawFor(d.Family)
	if err != nil {
		return nil, err
	}
	p := &Projection{
		desc: d,
		raw:  raw,
		k:    math.Min(d.Width, d.Height) / d.ScaleDivisor * d.Zoom,
		tx:   d.Width / 2,
		ty:   d.Height / 2,
	}
	// 中心在投影奇点上时保留非有限值，后续前向结果统一判定为未定义
	cx, cy, ok := raw.forward(wrapLongitude(d.Center[0]*radians), d.Center[1]*radians)
	if !ok {
		cx, cy = math.NaN(), math.NaN()
	}
	p.cx, p.cy = cx, cy
	return p, nil
}

func rawFor(f Family) (rawProjection, error) {
	switch f {
	case Mercator:
		return mercatorRaw{}, nil
	case NaturalEarth1:
		return naturalEarth1Raw{}, nil
	case Equirectangular:
		return equirectangularRaw{}, nil
	case Orthographic:
		return orthographicRaw{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, string(f))
}

func (p *Projection) Descriptor() Descriptor { return p.desc }
func (p *Projection) Scale() float64         { return p.k }
func (p *Projection) Translate() orb.Point   { return orb.Point{p.tx, p.ty} }

// Forward 经纬度 → 像素；投影在该点无定义（极点奇异、背面不可见）时返回 false
func (p *Projection) Forward(pt orb.Point) (orb.Point, bool) {
	x, y, ok := p.raw.forward(wrapLongitude(pt[0]*radians), pt[1]*radians)
	if !ok {
		return orb.Point{}, false
	}
	out := orb.Point{p.tx + p.k*(x-p.cx), p.ty - p.k*(y-p.cy)}
	if !finite(out[0]) || !finite(out[1]) {
		return orb.Point{}, false
	}
	return out, true
}

// Invert 像素 → 经纬度；投影族无反算、点落在可反算域外或结果超出经纬度范围时返回 false
// 调用方需检查返回值（例如不显示坐标）。
func (p *Projection) Invert(px orb.Point) (orb.Point, bool) {
	inv, ok := p.raw.(rawInverter)
	if !ok {
		return orb.Point{}, false
	}
	x := (px[0]-p.tx)/p.k + p.cx
	y := (p.ty-px[1])/p.k + p.cy
	lambda, phi, ok := inv.invert(x, y)
	if !ok || !finite(lambda) || !finite(phi) {
		return orb.Point{}, false
	}
	lon, lat := lambda*degrees, phi*degrees
	if math.Abs(lon) > 180+domainEpsilon || math.Abs(lat) > 90+domainEpsilon {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

// 经度归一化到 [-π, π]
func wrapLongitude(lambda float64) float64 {
	if lambda > math.Pi {
		return lambda - 2*math.Pi
	}
	if lambda < -math.Pi {
		return lambda + 2*math.Pi
	}
	return lambda
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
