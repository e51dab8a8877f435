package geometry

import (
	"math"
	"time"

	"map-export/internal/cache"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

// Hit 指针位置定位结果
// Approx 为 true 表示点入面未命中，取半径内最近的国家质心兜底。
type Hit struct {
	ISO        string  `json:"iso"`
	Approx     bool    `json:"approx"`
	DistanceKm float64 `json:"distance_km,omitempty"`
	feature    *geojson.Feature
}

func (h Hit) Feature() *geojson.Feature { return h.feature }

// LocatorOptions 定位参数；零值使用默认值（半径 300km、缓存 4096 条、TTL 1 小时）
type LocatorOptions struct {
	MaxRadiusKm float64
	CacheSize   int
	CacheTTL    time.Duration
}

// 文档注释：定位编排器（R-Tree 候选 → 点入面命中 → 质心最近邻兜底）
// 背景：指针移动时的“当前所在国家”反馈；海岸附近或小岛常落在多边形之外，用最近质心兜底。
// 约束：构建后只读（缓存除外）；缓存键为 6 位 geohash，同一格内的查询共享结果。
type Locator struct {
	index       *Index
	kd          *kdNode
	cache       *cache.LRU[Hit]
	maxRadiusKm float64
}

type centroid struct {
	pt orb.Point
	f  *geojson.Feature
}

func NewLocator(fc *geojson.FeatureCollection, opt LocatorOptions) *Locator {
	if opt.MaxRadiusKm <= 0 {
		opt.MaxRadiusKm = 300
	}
	if opt.CacheSize <= 0 {
		opt.CacheSize = 4096
	}
	if opt.CacheTTL <= 0 {
		opt.CacheTTL = time.Hour
	}
	var cs []centroid
	if fc != nil {
		for _, f := range fc.Features {
			if f == nil || f.Geometry == nil {
				continue
			}
			cs = append(cs, centroid{pt: CentroidOf(f), f: f})
		}
	}
	return &Locator{
		index:       NewIndex(fc),
		kd:          buildKD(cs, 0),
		cache:       cache.NewLRU[Hit](opt.CacheSize, opt.CacheTTL),
		maxRadiusKm: opt.MaxRadiusKm,
	}
}

// Locate 返回经纬度所在国家；都未命中（远洋）时返回 false
func (l *Locator) Locate(pt orb.Point) (Hit, bool) {
	if l == nil || !finitePoint(pt) {
		return Hit{}, false
	}
	key := cache.Geohash(pt[1], pt[0], 6)
	if h, ok := l.cache.Get(key); ok {
		return h, h.feature != nil
	}
	var h Hit
	if f := l.index.At(pt); f != nil {
		h = Hit{ISO: ISOCode(f), feature: f}
	} else if l.kd != nil {
		c, d := nearest(l.kd, pt)
		if d <= l.maxRadiusKm {
			h = Hit{ISO: ISOCode(c.f), Approx: true, DistanceKm: d, feature: c.f}
		}
	}
	l.cache.Set(key, h)
	return h, h.feature != nil
}

func finitePoint(pt orb.Point) bool {
	for _, v := range pt {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// 文档注释：KD-Tree 最近邻（二维经纬）
// 约束：按经度/纬度交替分割；仅支持最近一个点查询；距离为球面距离（千米）。
type kdNode struct {
	c  centroid
	ax int // 0:lon,1:lat
	l  *kdNode
	r  *kdNode
}

func buildKD(cs []centroid, depth int) *kdNode {
	if len(cs) == 0 {
		return nil
	}
	ax := depth % 2
	mid := len(cs) / 2
	selectNth(cs, mid, ax)
	node := &kdNode{c: cs[mid], ax: ax}
	node.l = buildKD(cs[:mid], depth+1)
	node.r = buildKD(cs[mid+1:], depth+1)
	return node
}

// 原地 nth 元素选择
func selectNth(a []centroid, n int, ax int) {
	lo, hi := 0, len(a)-1
	for lo < hi {
		p := partition(a, lo, hi, (lo+hi)/2, ax)
		if p == n {
			return
		}
		if n < p {
			hi = p - 1
		} else {
			lo = p + 1
		}
	}
}

func partition(a []centroid, lo, hi, pivot, ax int) int {
	pv := a[pivot].pt[ax]
	a[pivot], a[hi] = a[hi], a[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if a[j].pt[ax] < pv {
			a[i], a[j] = a[j], a[i]
			i++
		}
	}
	a[i], a[hi] = a[hi], a[i]
	return i
}

func nearest(node *kdNode, pt orb.Point) (centroid, float64) {
	var best centroid
	bestD := math.MaxFloat64
	var dfs func(n *kdNode)
	dfs = func(n *kdNode) {
		if n == nil {
			return
		}
		if d := geo.DistanceHaversine(pt, n.c.pt) / 1000; d < bestD {
			bestD, best = d, n.c
		}
		key, q := pt[n.ax], n.c.pt[n.ax]
		first, second := n.l, n.r
		if key > q {
			first, second = n.r, n.l
		}
		dfs(first)
		// 纬度差 × 111km 是球面距离的下界，可剪枝；经度方向的距离随纬度收缩，不剪枝
		if n.ax == 0 || math.Abs(key-q)*111.0 < bestD {
			dfs(second)
		}
	}
	dfs(node)
	return best, bestD
}
