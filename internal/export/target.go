package export

import (
	"math"

	"map-export/internal/scene"

	"github.com/beevik/etree"
)

// CanvasTarget 设备像素下的画布尺寸
type CanvasTarget struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Target 计算画布尺寸：round(固有尺寸 × 像素比 × 倍率)，最长边超过 maxDimension 时等比缩小
// 约束：结果每边至少 1 像素；capped 表示发生了缩小（非致命，导出照常进行）。
func Target(intrinsicW, intrinsicH, dpr float64, scale, maxDimension int) (CanvasTarget, bool) {
	w := math.Round(intrinsicW * dpr * float64(scale))
	h := math.Round(intrinsicH * dpr * float64(scale))
	capped := false
	if longest := math.Max(w, h); maxDimension > 0 && longest > float64(maxDimension) {
		f := float64(maxDimension) / longest
		w = math.Round(w * f)
		h = math.Round(h * f)
		capped = true
	}
	return CanvasTarget{Width: atLeastOne(w), Height: atLeastOne(h)}, capped
}

func atLeastOne(v float64) int {
	if !(v >= 1) {
		return 1
	}
	return int(v)
}

// IntrinsicSize 源尺寸：克隆的 viewBox 优先，其次 width/height 属性，再次客户区尺寸，最后 1200×800
func IntrinsicSize(clone *etree.Document, clientW, clientH float64) (float64, float64) {
	var root *etree.Element
	if clone != nil {
		root = clone.Root()
	}
	if root != nil {
		if _, _, w, h, ok := scene.ParseViewBox(root.SelectAttrValue("viewBox", "")); ok {
			return w, h
		}
	}
	w, h := 0.0, 0.0
	if root != nil {
		w, _ = scene.ParseLength(root.SelectAttrValue("width", ""))
		h, _ = scene.ParseLength(root.SelectAttrValue("height", ""))
	}
	if !(w > 0) {
		w = clientW
	}
	if !(h > 0) {
		h = clientH
	}
	if !(w > 0) {
		w = scene.FallbackWidth
	}
	if !(h > 0) {
		h = scene.FallbackHeight
	}
	return w, h
}
