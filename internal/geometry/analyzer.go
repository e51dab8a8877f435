// 包 geometry：国家要素的质心、包围盒与“飞到”目标（中心 + 缩放级别）推导
package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

const (
	// 缩放推导常量：zoom = max(minZoom, zoomBase - extent*zoomPerDegree)
	minZoom       = 6.0
	zoomBase      = 18.0
	zoomPerDegree = 40.0
)

// ISO-3166 代码所在的属性键，按优先级排列
var isoKeys = []string{"ISO_A3", "ISO_A2", "iso_a3", "iso_a2", "ISO_A3_EH", "ISO_A2_EH", "ADM0_A3", "iso3", "iso2"}

// FlyTo 平移缩放目标
type FlyTo struct {
	Center orb.Point `json:"center"`
	Zoom   float64   `json:"zoom"`
}

// CentroidOf 要素质心（按面积加权的平面质心，经纬度直接视作平面坐标）
func CentroidOf(f *geojson.Feature) orb.Point {
	if f == nil || f.Geometry == nil {
		return orb.Point{}
	}
	c, _ := planar.CentroidArea(f.Geometry)
	return c
}

// BoundsOf 要素包围盒 [[minLon,minLat],[maxLon,maxLat]]
func BoundsOf(f *geojson.Feature) orb.Bound {
	if f == nil || f.Geometry == nil {
		return orb.Bound{}
	}
	return f.Geometry.Bound()
}

// ZoomForBound 由包围盒最大角跨度推导缩放级别；下限恒为 6
func ZoomForBound(b orb.Bound) float64 {
	extent := math.Max(math.Abs(b.Max[1]-b.Min[1]), math.Abs(b.Max[0]-b.Min[0]))
	return math.Max(minZoom, zoomBase-extent*zoomPerDegree)
}

// Find 按 ISO alpha-2/alpha-3 代码查找要素（区分大小写，调用方负责规范化）
// 约束：无几何的要素不参与匹配。
func Find(fc *geojson.FeatureCollection, iso string) *geojson.Feature {
	if fc == nil || iso == "" {
		return nil
	}
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if matchesISO(f, iso) {
			return f
		}
	}
	return nil
}

// CenterAndZoomFor 国家“飞到”目标；未找到时返回 false（非错误，调用方需显式分支）
func CenterAndZoomFor(fc *geojson.FeatureCollection, iso string) (*FlyTo, bool) {
	f := Find(fc, iso)
	if f == nil {
		return nil, false
	}
	return &FlyTo{Center: CentroidOf(f), Zoom: ZoomForBound(BoundsOf(f))}, true
}

// ISOCode 要素的首个 ISO 代码（alpha-3 优先），无则返回空串
func ISOCode(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	for _, k := range isoKeys {
		if s := propString(f.Properties, k); s != "" && s != "-99" {
			return s
		}
	}
	if f.ID != nil {
		return fmt.Sprintf("%v", f.ID)
	}
	return ""
}

func matchesISO(f *geojson.Feature, iso string) bool {
	for _, k := range isoKeys {
		if propString(f.Properties, k) == iso {
			return true
		}
	}
	if s, ok := f.ID.(string); ok && s == iso {
		return true
	}
	return false
}

func propString(p geojson.Properties, k string) string {
	if p == nil {
		return ""
	}
	if v, ok := p[k].(string); ok {
		return v
	}
	return ""
}
