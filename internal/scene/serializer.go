package scene

import (
	"strings"

	"map-export/internal/logger"

	"github.com/beevik/etree"
)

const (
	SVGNamespace = "http://www.w3.org/2000/svg"

	FallbackWidth  = 1200.0
	FallbackHeight = 800.0

	// 导出忽略与背景矩形标记
	IgnoreAttr      = "data-export-ignore"
	IgnoreClass     = "export-ignore"
	RoleAttr        = "data-role"
	RoleBackground  = "background"
	BackgroundClass = "background-rect"
)

// 内联计算样式的元素白名单
var inlineTags = map[string]bool{
	"path": true, "rect": true, "circle": true, "ellipse": true, "line": true,
	"polyline": true, "polygon": true, "text": true, "tspan": true, "g": true,
}

// 内联计算样式的属性白名单（顺序即写出顺序）；vector-effect 承载 non-scaling-stroke 提示
var inlineProps = []string{
	"fill", "stroke", "stroke-width", "opacity", "fill-opacity", "stroke-opacity",
	"font-family", "font-size", "text-anchor", "font-weight", "vector-effect",
}

// 文档注释：生成自包含的导出克隆
// 步骤：深拷贝根 → 补 xmlns → 补 viewBox（原始宽高属性 → 客户区尺寸 → 1200×800）→
// 标记需移除的页面装饰元素 → 按需内联计算样式 → 移除标记元素。
// 约束：内联在移除之前完成，此时克隆与原始树同构，序号路径对应成立；活动场景不被修改。
// 场景缺失时返回 nil。
func PrepareClone(live *Scene, inlineStyles bool) *etree.Document {
	src := live.Root()
	if src == nil {
		return nil
	}
	root := src.Copy()
	doc := etree.NewDocument()
	doc.SetRoot(root)

	if root.SelectAttr("xmlns") == nil {
		root.CreateAttr("xmlns", SVGNamespace)
	}
	if _, _, _, _, ok := ParseViewBox(root.SelectAttrValue("viewBox", "")); !ok {
		w, h := live.intrinsicSize()
		root.CreateAttr("viewBox", "0 0 "+formatNumber(w)+" "+formatNumber(h))
	}

	doomed := collectIgnored(root)
	if inlineStyles {
		inlineComputed(root, src, live.styles(), doomed)
	}
	for el := range doomed {
		if p := el.Parent(); p != nil {
			p.RemoveChild(el)
		}
	}
	return doc
}

// intrinsicSize 视口尺寸：原始 width/height 属性，其次客户区尺寸，最后 1200×800（逐维回退）
func (s *Scene) intrinsicSize() (float64, float64) {
	root := s.Root()
	w, ok := ParseLength(root.SelectAttrValue("width", ""))
	if !ok {
		w = s.ClientWidth
	}
	if !(w > 0) {
		w = FallbackWidth
	}
	h, ok := ParseLength(root.SelectAttrValue("height", ""))
	if !ok {
		h = s.ClientHeight
	}
	if !(h > 0) {
		h = FallbackHeight
	}
	return w, h
}

// IsIgnored 元素带有导出忽略或背景矩形标记
func IsIgnored(el *etree.Element) bool {
	if a := el.SelectAttr(IgnoreAttr); a != nil && a.Value != "false" {
		return true
	}
	if el.SelectAttrValue(RoleAttr, "") == RoleBackground {
		return true
	}
	return hasClass(el, IgnoreClass) || hasClass(el, BackgroundClass)
}

// collectIgnored 收集最外层的标记元素（其后代随之移除，不重复收集）
func collectIgnored(root *etree.Element) map[*etree.Element]bool {
	out := map[*etree.Element]bool{}
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, c := range el.ChildElements() {
			if IsIgnored(c) {
				out[c] = true
				continue
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// inlineComputed 尽力而为：找不到对应节点或读不到计算样式的元素保持原样
func inlineComputed(cloneRoot, origRoot *etree.Element, styles StyleResolver, skip map[*etree.Element]bool) {
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, c := range el.ChildElements() {
			if skip[c] {
				continue
			}
			if inlineTags[c.Tag] {
				inlineOne(c, cloneRoot, origRoot, styles)
			}
			walk(c)
		}
	}
	walk(cloneRoot)
}

func inlineOne(el, cloneRoot, origRoot *etree.Element, styles StyleResolver) {
	src, ok := Correspond(el, cloneRoot, origRoot)
	if !ok {
		logger.L().Debug("inline_style_no_match", "tag", el.Tag)
		return
	}
	st, err := styles.ComputedStyle(src)
	if err != nil {
		logger.L().Debug("inline_style_unreadable", "tag", el.Tag, "err", err)
		return
	}
	var b strings.Builder
	for _, p := range inlineProps {
		v := st[p]
		if v == "" {
			continue
		}
		b.WriteString(p)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte(';')
	}
	if b.Len() == 0 {
		return
	}
	existing := strings.TrimSpace(el.SelectAttrValue("style", ""))
	if existing != "" && !strings.HasSuffix(existing, ";") {
		existing += ";"
	}
	el.CreateAttr("style", existing+b.String())
}
