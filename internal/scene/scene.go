// 包 scene：矢量场景（SVG 文档树）的解析、克隆规范化与结构对应
package scene

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

var (
	ErrNotSVG   = errors.New("scene: root element is not <svg>")
	ErrDetached = errors.New("scene: element is not attached to a document")
)

// Scene 活动场景：只读引用，导出流程从不修改它
// ClientWidth/ClientHeight 为渲染后的客户区尺寸（来自调用方，未知时为 0）。
type Scene struct {
	Doc          *etree.Document
	ClientWidth  float64
	ClientHeight float64
	Styles       StyleResolver
}

// Parse 解析 SVG 标记为活动场景，并基于文档内 <style> 建立默认计算样式解析器
func Parse(b []byte) (*Scene, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(b); err != nil {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "svg" {
		return nil, ErrNotSVG
	}
	return &Scene{Doc: doc, Styles: NewCascade(doc)}, nil
}

// Root 场景根元素；场景缺失时返回 nil
func (s *Scene) Root() *etree.Element {
	if s == nil || s.Doc == nil {
		return nil
	}
	return s.Doc.Root()
}

func (s *Scene) styles() StyleResolver {
	if s.Styles != nil {
		return s.Styles
	}
	return NewCascade(s.Doc)
}

// Serialize 序列化为标记字节
func Serialize(doc *etree.Document) ([]byte, error) {
	if doc == nil || doc.Root() == nil {
		return nil, ErrNotSVG
	}
	return doc.WriteToBytes()
}

// CountElements 子树元素总数（含自身）
func CountElements(el *etree.Element) int {
	if el == nil {
		return 0
	}
	n := 1
	for _, c := range el.ChildElements() {
		n += CountElements(c)
	}
	return n
}

// ParseViewBox 解析 "minX minY width height"（空格或逗号分隔）；宽高需为正
func ParseViewBox(s string) (minX, minY, w, h float64, ok bool) {
	f := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r' })
	if len(f) != 4 {
		return 0, 0, 0, 0, false
	}
	var v [4]float64
	for i, p := range f {
		x, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, 0, 0, 0, false
		}
		v[i] = x
	}
	if !(v[2] > 0) || !(v[3] > 0) {
		return 0, 0, 0, 0, false
	}
	return v[0], v[1], v[2], v[3], true
}

// ParseLength 解析绝对长度（无单位或 px）；百分比等相对单位视为无效
func ParseLength(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "px"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || !(v > 0) {
		return 0, false
	}
	return v, true
}

func hasClass(el *etree.Element, class string) bool {
	for _, c := range strings.Fields(el.SelectAttrValue("class", "")) {
		if c == class {
			return true
		}
	}
	return false
}

func formatNumber(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
