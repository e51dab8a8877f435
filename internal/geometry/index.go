package geometry

import (
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// 包围盒退化（点/线）时 R-Tree 矩形的最小边长（度）
const minRectSide = 1e-9

// Index 要素包围盒 R-Tree；候选经包围盒过滤后再做点入面精确判定
// 约束：构建后只读；要素集合需在构建后保持不变。
type Index struct {
	tree *rtreego.Rtree
	size int
}

type indexEntry struct {
	f    *geojson.Feature
	rect rtreego.Rect
}

func (e *indexEntry) Bounds() rtreego.Rect { return e.rect }

// NewIndex 为集合中的面要素建立空间索引
func NewIndex(fc *geojson.FeatureCollection) *Index {
	idx := &Index{tree: rtreego.NewTree(2, 25, 50)}
	if fc == nil {
		return idx
	}
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		rect, err := rtreego.NewRect(
			rtreego.Point{b.Min[0], b.Min[1]},
			[]float64{side(b.Max[0] - b.Min[0]), side(b.Max[1] - b.Min[1])},
		)
		if err != nil {
			continue
		}
		idx.tree.Insert(&indexEntry{f: f, rect: rect})
		idx.size++
	}
	return idx
}

func side(v float64) float64 {
	if v < minRectSide {
		return minRectSide
	}
	return v
}

func (i *Index) Len() int { return i.size }

// At 返回包含该经纬度的要素；无命中返回 nil
func (i *Index) At(pt orb.Point) *geojson.Feature {
	if i == nil || i.size == 0 {
		return nil
	}
	cands := i.tree.SearchIntersect(rtreego.Point{pt[0], pt[1]}.ToRect(minRectSide))
	for _, c := range cands {
		e := c.(*indexEntry)
		if contains(e.f.Geometry, pt) {
			return e.f
		}
	}
	return nil
}

func contains(g orb.Geometry, pt orb.Point) bool {
	switch gg := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(gg, pt)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(gg, pt)
	}
	return false
}
