package scene

import (
	"regexp"
	"sort"
	"strings"

	"github.com/beevik/etree"
)

// Style 计算样式：属性名（小写）→ 值
type Style map[string]string

// StyleResolver 读取活动节点的计算样式；节点脱离文档时返回错误
type StyleResolver interface {
	ComputedStyle(el *etree.Element) (Style, error)
}

// 会沿文档树继承的属性
var inherited = map[string]bool{
	"fill": true, "stroke": true, "stroke-width": true, "fill-opacity": true, "stroke-opacity": true,
	"font-family": true, "font-size": true, "font-weight": true, "text-anchor": true,
	"stroke-linecap": true, "stroke-linejoin": true, "stroke-dasharray": true, "fill-rule": true,
	"visibility": true, "color": true,
}

// 可作为表现属性（presentation attribute）书写的属性
var presentation = []string{
	"fill", "stroke", "stroke-width", "opacity", "fill-opacity", "stroke-opacity",
	"font-family", "font-size", "text-anchor", "font-weight", "vector-effect",
	"stroke-linecap", "stroke-linejoin", "stroke-dasharray", "fill-rule", "visibility", "color",
}

// Cascade 简化层叠：表现属性 < <style> 规则（按特异性、出现顺序）< 内联 style；再叠加继承
// 约束：选择器只支持 type、.class、#id 及其复合（如 path.country#fr）与逗号列表；
// 含组合符、伪类、属性选择器的规则被忽略。
type Cascade struct {
	rules []cssRule
}

type cssRule struct {
	sel   selector
	order int
	decls [][2]string
}

type selector struct {
	tag     string
	id      string
	classes []string
}

func (s selector) specificity() int {
	n := len(s.classes) * 10
	if s.id != "" {
		n += 100
	}
	if s.tag != "" && s.tag != "*" {
		n++
	}
	return n
}

func (s selector) matches(el *etree.Element) bool {
	if s.tag != "" && s.tag != "*" && s.tag != el.Tag {
		return false
	}
	if s.id != "" && el.SelectAttrValue("id", "") != s.id {
		return false
	}
	for _, c := range s.classes {
		if !hasClass(el, c) {
			return false
		}
	}
	return true
}

var cssComment = regexp.MustCompile(`(?s)/\*.*?\*/`)

// NewCascade 收集文档内所有 <style> 元素的规则
func NewCascade(doc *etree.Document) *Cascade {
	c := &Cascade{}
	if doc == nil {
		return c
	}
	for _, st := range doc.FindElements("//style") {
		c.addSheet(st.Text())
	}
	return c
}

func (c *Cascade) addSheet(css string) {
	css = cssComment.ReplaceAllString(css, "")
	for _, block := range strings.Split(css, "}") {
		open := strings.Index(block, "{")
		if open < 0 {
			continue
		}
		decls := parseDecls(block[open+1:])
		if len(decls) == 0 {
			continue
		}
		for _, raw := range strings.Split(block[:open], ",") {
			sel, ok := parseSelector(strings.TrimSpace(raw))
			if !ok {
				continue
			}
			c.rules = append(c.rules, cssRule{sel: sel, order: len(c.rules), decls: decls})
		}
	}
}

func parseSelector(s string) (selector, bool) {
	if s == "" || strings.ContainsAny(s, " \t\n>+~:[") {
		return selector{}, false
	}
	var sel selector
	i := 0
	for i < len(s) && s[i] != '.' && s[i] != '#' {
		i++
	}
	sel.tag = s[:i]
	for i < len(s) {
		kind := s[i]
		j := i + 1
		for j < len(s) && s[j] != '.' && s[j] != '#' {
			j++
		}
		name := s[i+1 : j]
		if name == "" {
			return selector{}, false
		}
		if kind == '.' {
			sel.classes = append(sel.classes, name)
		} else {
			sel.id = name
		}
		i = j
	}
	return sel, true
}

// parseDecls 解析 "a: b; c: d"，忽略 !important 标记与空声明
func parseDecls(s string) [][2]string {
	var out [][2]string
	for _, d := range strings.Split(s, ";") {
		k, v, ok := strings.Cut(d, ":")
		if !ok {
			continue
		}
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "!important"))
		if k == "" || v == "" {
			continue
		}
		out = append(out, [2]string{k, v})
	}
	return out
}

// specified 元素自身声明的属性（不含继承）
func (c *Cascade) specified(el *etree.Element) Style {
	st := Style{}
	for _, p := range presentation {
		if a := el.SelectAttr(p); a != nil && strings.TrimSpace(a.Value) != "" {
			st[p] = strings.TrimSpace(a.Value)
		}
	}
	var hits []cssRule
	for _, r := range c.rules {
		if r.sel.matches(el) {
			hits = append(hits, r)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		si, sj := hits[i].sel.specificity(), hits[j].sel.specificity()
		if si != sj {
			return si < sj
		}
		return hits[i].order < hits[j].order
	})
	for _, r := range hits {
		for _, d := range r.decls {
			st[d[0]] = d[1]
		}
	}
	for _, d := range parseDecls(el.SelectAttrValue("style", "")) {
		st[d[0]] = d[1]
	}
	return st
}

// ComputedStyle 自根向下叠加各层声明并传递可继承属性
func (c *Cascade) ComputedStyle(el *etree.Element) (Style, error) {
	chain, ok := ancestry(el)
	if !ok {
		return nil, ErrDetached
	}
	var cur Style
	for _, node := range chain {
		next := Style{}
		for k, v := range cur {
			if inherited[k] {
				next[k] = v
			}
		}
		for k, v := range c.specified(node) {
			if v == "inherit" {
				if pv, ok := cur[k]; ok {
					next[k] = pv
				}
				continue
			}
			next[k] = v
		}
		cur = next
	}
	return cur, nil
}

// ancestry 根元素到 el 的元素链；el 未挂在文档下时返回 false
func ancestry(el *etree.Element) ([]*etree.Element, bool) {
	if el == nil {
		return nil, false
	}
	var rev []*etree.Element
	cur := el
	for {
		rev = append(rev, cur)
		p := cur.Parent()
		if p == nil {
			return nil, false
		}
		if p.Tag == "" && p.Parent() == nil {
			break
		}
		cur = p
	}
	chain := make([]*etree.Element, len(rev))
	for i, v := range rev {
		chain[len(rev)-1-i] = v
	}
	return chain, true
}
